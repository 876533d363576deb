package orchestrator

import "time"

func nowHeartbeat() time.Time { return time.Now().UTC() }
