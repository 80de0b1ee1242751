/*
Package resilience guards remote dependencies with circuit breakers.

A Breaker lets calls through while closed, rejects them for a cooldown
once its trip condition holds, then admits a few probes and closes again if
they succeed:

	Closed --[trip]--> Open --[cooldown]--> Half-Open --[probes ok]--> Closed
	                     ^                      |
	                     +------[failure]-------+

Counts accumulate per epoch; every state change and every closed window
starts a new epoch, and outcomes of calls admitted in an older epoch are
discarded.

A Group keeps one breaker per key, typically per origin:

	breakers := resilience.NewGroup(resilience.Settings{Cooldown: 10 * time.Second})
	err := breakers.Get(u.Host).Do(func() error {
		return fetch(ctx, u)
	})
*/
package resilience
