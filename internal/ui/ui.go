// Package ui defines what the core services need from the user interface and
// provides a headless implementation for running without a display.
//
// All UI-affecting work is handed to the UI goroutine through a PostFunc;
// services never touch the UI from their own goroutines.
package ui

// PostFunc schedules fn to run on the UI goroutine
type PostFunc func(fn func())

// Inline runs fn immediately on the caller's goroutine
func Inline(fn func()) { fn() }

// ThemeApplier re-applies the named variant ("light" or "dark") to the UI
type ThemeApplier interface {
	ApplyThemeVariant(variant string)
}

// ThemeApplierFunc adapts a function to ThemeApplier
type ThemeApplierFunc func(variant string)

func (f ThemeApplierFunc) ApplyThemeVariant(variant string) { f(variant) }

// AlarmPopup describes the ringing alarm dialog
type AlarmPopup struct {
	Time      string
	Ringtone  string
	OnSnooze  func()
	OnDismiss func()
}

// Popup is an open dialog
type Popup interface {
	Dismiss()
}

// PopupOpener opens dialogs. It is only called on the UI goroutine.
type PopupOpener interface {
	OpenAlarmPopup(req AlarmPopup) (Popup, error)
}
