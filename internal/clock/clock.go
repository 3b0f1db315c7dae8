package clock

import "time"

// NowFunc returns the current time. Task and Process timestamps all go
// through it, so tests can stub it for deterministic
// StartedAt/FinishedAt/CreatedAt/UpdatedAt values.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
