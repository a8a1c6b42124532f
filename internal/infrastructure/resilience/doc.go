/*
Package resilience provides the circuit breaker that guards engine calls.

# States

- Closed: calls pass through and failures are counted
- Open: calls fail fast with ErrCircuitOpen until the cooldown elapses
- Half-Open: up to MaxProbes calls test whether the engine recovered

	Closed --[ShouldTrip]-> Open --[Cooldown]-> Half-Open --[MaxProbes successes]-> Closed
	                                                |
	                                            [failure]
	                                                v
	                                               Open

Caller cancellation is not counted as a failure unless Settings.IsFailure
says otherwise.

# Usage

	breaker := resilience.New("engine", resilience.Settings{
		MaxProbes: 1,
		Cooldown:  5 * time.Second,
		ShouldTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Execute(func() error {
		return conn.Invoke(ctx, method, req, resp)
	})
*/
package resilience
