// Package msgport provides message ports: paired endpoints that pass opaque
// messages between goroutines and deliver them on the receiver's own
// single-threaded loop.
//
// A producer may start sending before the consumer's loop exists. Such
// messages are parked in a process-wide pending queue and delivered, in send
// order, once the loop becomes available.
//
// # Quick Start
//
// Create a loop and a channel bound to it:
//
//	loop := msgport.NewLoop()
//	defer loop.Stop()
//
//	ch := msgport.NewChannel(loop, "")
//	ch.Port2.OnMessage(func(ctx context.Context, msg *msgport.Message) {
//		// Runs on loop's goroutine
//		fmt.Println(msg.Text())
//	})
//	err := ch.Port1.Send(msgport.NewTextMessage("ping"))
//
// # Deferred Loops
//
// When the receiving loop is created later, bind the channel to a future:
//
//	promise := msgport.NewLoopPromise()
//	ch := msgport.NewDeferredChannel(promise.Future(), "embedder")
//	ch.Port2.OnMessage(handler)
//	ch.Port1.Send(msgport.NewTextMessage("a")) // parked
//	ch.Port1.Send(msgport.NewTextMessage("b")) // parked
//
//	// later, from any goroutine
//	promise.Resolve(loop)
//	msgport.DrainPendingMessages(loop) // delivers "a" then "b"
//
// # Ownership
//
// Port1 holds Port2 strongly; Port2 references Port1 weakly. Releasing Port1
// releases Port2 unless something else holds it. Port.Unref drops the strong
// edge explicitly. Sending to a released port returns ErrNoSink.
//
// # Results
//
// Port.Send returns nil once delivery is scheduled, or one of ErrNoSink,
// ErrNoOnMessage, ErrInvalidMessageEvent and ErrInvalidPortLoop. Failures after
// scheduling (the sink or its handler disappearing) are not reported.
package msgport
