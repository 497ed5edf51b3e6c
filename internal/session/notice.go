package session

import (
	"github.com/nkiryanov/stocksim/internal/models"
)

// Router moves user to another screen
type Router interface {
	Navigate(path string)
}

// Notifier shows notice to user
type Notifier interface {
	Notify(n models.Notice)
}

type noopRouter struct{}

func (noopRouter) Navigate(string) {}

type noopNotifier struct{}

func (noopNotifier) Notify(models.Notice) {}

func noticeFor(reason models.LogoutReason) models.Notice {
	switch reason {
	case models.ReasonExpired:
		return models.Notice{Title: "Session Expired", Message: "Your session has expired. Please log in again."}
	case models.ReasonOtherSession:
		return models.Notice{Title: "Logged Out", Message: "You have been logged out from another device/browser."}
	case models.ReasonRefreshFailed:
		return models.Notice{Title: "Session Expired", Message: "Your session could not be renewed. Please log in again."}
	default:
		return models.Notice{Title: "Logged Out", Message: "Your session is no longer valid. Please log in again."}
	}
}
