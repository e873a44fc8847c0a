package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/eywa-bot/line-relay/line"
)

// An Alert is a machine alert to be relayed to every active group.
type Alert struct {
	SendTime     time.Time
	MachineName  string
	ErrorMessage string
	MachineData  string
}

// Text renders the alert as the multi-line notification text.
func (a Alert) Text() string {
	return fmt.Sprintf("警告通知\n發送時間: %s\n機台名稱: %s\n異常訊息: %s\n機台數據: %s",
		a.SendTime.Format("2006-01-02 15:04:05"), a.MachineName, a.ErrorMessage, a.MachineData)
}

// AlertActiveGroups formats the alert and pushes it to every active
// group. A zero SendTime is stamped with the current time.
func (s *Service) AlertActiveGroups(ctx context.Context, alert Alert) (Fanout, error) {
	if alert.SendTime.IsZero() {
		alert.SendTime = time.Now()
	}
	return s.PushToActiveGroups(ctx, []line.Message{line.NewText(alert.Text())})
}
