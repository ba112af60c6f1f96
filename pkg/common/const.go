package common

const (
	KEY_TASK_COMPLETION = "task_completion:%d"
)

const (
	KEY_LOG_HOOK_SEND_ALERT = "send_alert"
)
