package events

import "substarter/backend/domain"

// EventType 事件类型
type EventType string

const (
	// 订阅事件
	EventProfileCreated   EventType = "profile.created"
	EventProfileUpdated   EventType = "profile.updated"
	EventProfileDeleted   EventType = "profile.deleted"
	EventProfileRefreshed EventType = "profile.refreshed"

	// 设置事件
	EventSettingsChanged EventType = "settings.changed"

	// 通配符事件（用于订阅所有事件）
	EventAll EventType = "*"
)

// Event 事件接口
type Event interface {
	Type() EventType
}

// ProfileEvent 订阅事件
type ProfileEvent struct {
	EventType EventType
	ProfileID string
	Profile   domain.Profile
}

func (e ProfileEvent) Type() EventType { return e.EventType }

// SettingsEvent 设置事件
type SettingsEvent struct {
	EventType EventType
	Settings  domain.Settings
}

func (e SettingsEvent) Type() EventType { return e.EventType }
