// Command msgport exercises message ports between goroutine-backed loops.
package main

func main() {
	Execute()
}
