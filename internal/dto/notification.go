package dto

// NotificationQuery mirrors notification listing filters.
type NotificationQuery struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"pageSize"`
}
