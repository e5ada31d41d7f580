// Package realtime multiplexes named subscriptions to a realtime change
// stream so that any number of consumers interested in the same channel
// name share one underlying transport subscription.
//
// Every Acquire and Release, for every channel name, passes through a
// single FIFO operation queue. Only the queue worker mutates the registry,
// which keeps a channel from being re-created while its teardown is still
// in flight and prevents duplicate subscriptions to the same name.
//
//	reg := realtime.NewRegistry(socket, realtime.DefaultConfig(), logger)
//	ch, err := reg.Acquire(ctx, "conversation:42", func(ch realtime.Channel) (realtime.Channel, error) {
//		ch.On("*", onChange)
//		return ch, ch.Subscribe(nil)
//	})
//	...
//	reg.Release(ctx, "conversation:42")
package realtime
