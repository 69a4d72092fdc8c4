/*
Package resilience guards calls to a remote app manager.

# Circuit breaker

Breaker fails fast once a remote keeps failing, then probes it again after
a timeout:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

Settings.IsSuccessful decides which errors are failures. The app manager
client counts its business errors (permission denied, invalid parameter,
invalid clone index) as successes so that only transport faults trip it.

	breaker := resilience.New("appmgr", resilience.Settings{
		Timeout:      30 * time.Second,
		IsSuccessful: func(err error) bool { return err == nil || appmanager.IsBusiness(err) },
	})
	running, err := resilience.Call(ctx, breaker, func(ctx context.Context) (bool, error) {
		return client.IsAppRunning(ctx, bundle)
	})

# Retry

Retry wraps cenkalti/backoff with an exponential policy. Wrap an error in
Permanent to stop retrying.
*/
package resilience
