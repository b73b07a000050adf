package constants

// Pagination
const (
	MinPageSize     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Context and session keys
const (
	ContextKeyUserID    = "user_id"
	ContextKeyActorID   = "actor_id"
	ContextKeyRequestID = "request_id"
	SessionCookieName   = "task_session"
	HeaderActorID       = "X-Actor-ID"
	HeaderRequestID     = "X-Request-ID"
)

// Task limits
const (
	MaxTitleLength          = 255
	MaxActorIDLength        = 64
	DefaultUpcomingDays     = 7
	MaxUpcomingDays         = 366
	MaxAISuggestedSubtasks  = 20
	StatisticsCacheKey      = "task_statistics"
	DefaultStatisticsTTLSec = 30
)
