// Package event carries user-visible notifications from the parts of odooctl
// that detect problems to the parts that display them.
//
// A [Bus] fans each published [Notification] out to its listeners
// synchronously, in subscription order, over a snapshot of the subscriber
// list taken at publish time. Listeners added later do not see earlier
// notifications. There is no buffering and no backpressure.
//
// A [Tray] is the set of notifications currently visible. It arms one timer
// per notification and guarantees a notification is removed exactly once,
// whichever of expiry, dismissal or eviction happens first.
//
// A [Bridge] implements the request pipeline's failure reporter: it maps an
// HTTP status to a severity and lifetime with [Policy] and publishes the
// result.
//
//	bus := event.NewBus()
//	tray := event.NewTray(event.WithMaxItems(5))
//	defer tray.Attach(bus)()
//	client := api.New(baseURL, sess, api.WithReporter(event.NewBridge(bus)))
//
// # Thread Safety
//
// All types are safe for concurrent use. Subscribing and unsubscribing from
// inside a listener is allowed.
package event
