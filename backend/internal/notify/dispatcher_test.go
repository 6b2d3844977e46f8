package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"collab-session/backend/internal/ws"
)

type recorder struct {
	toasts []Toast
	titles []string
	bodies []string
}

func (r *recorder) Toast(t Toast) { r.toasts = append(r.toasts, t) }
func (r *recorder) Notify(title, body string) {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, body)
}

func TestDispatchBuiltinKinds(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, rec, "张三")

	pending := 4
	d.Dispatch(ws.Frame{Type: ws.KindTaskSubmitted, Content: "任务 #9 已提交", Pending: &pending})
	d.Dispatch(ws.Frame{Type: ws.KindTaskRejected})
	d.Dispatch(ws.Frame{Type: ws.KindWorkEndReminder})

	if len(rec.toasts) != 3 || len(rec.titles) != 3 {
		t.Fatalf("each frame must produce one toast and one notification: %d/%d", len(rec.toasts), len(rec.titles))
	}
	if rec.toasts[0].Level != LevelSuccess || rec.toasts[0].Message != "任务 #9 已提交（待审核：4）" {
		t.Fatalf("task_submitted toast = %+v", rec.toasts[0])
	}
	if rec.titles[0] != "张三，有新任务待审核" {
		t.Fatalf("title = %q", rec.titles[0])
	}
	if rec.toasts[1].Level != LevelWarning || rec.toasts[1].Message != "任务需修订，请修改" {
		t.Fatalf("task_rejected toast = %+v", rec.toasts[1])
	}
	reminder := rec.toasts[2]
	if reminder.Level != LevelWarning || reminder.Duration != 10*time.Second || !reminder.Closable {
		t.Fatalf("work_end_reminder toast = %+v", reminder)
	}
	if reminder.Kind != ws.KindWorkEndReminder {
		t.Fatalf("toast kind = %q", reminder.Kind)
	}
}

func TestDispatchGenericFallback(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, rec, "")

	d.Dispatch(ws.Frame{Type: "project_archived", Message: "项目已归档", Priority: ws.PriorityHigh, Title: "项目变更"})
	d.Dispatch(ws.Frame{Type: "something_new"})

	if len(rec.toasts) != 2 {
		t.Fatalf("unknown kinds must never be dropped")
	}
	high := rec.toasts[0]
	if high.Level != LevelWarning || high.Duration != 8*time.Second || high.Message != "项目已归档" {
		t.Fatalf("high priority toast = %+v", high)
	}
	if rec.titles[0] != "您，项目变更" {
		t.Fatalf("title = %q", rec.titles[0])
	}
	normal := rec.toasts[1]
	if normal.Level != LevelInfo || normal.Duration != 5*time.Second || normal.Message != "您有新的通知" {
		t.Fatalf("normal toast = %+v", normal)
	}
	if rec.titles[1] != "您，系统通知" {
		t.Fatalf("title = %q", rec.titles[1])
	}
}

func TestDispatchRegisterOverridesAndIgnoresHeartbeats(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, rec, "Bob")
	d.Register(ws.KindTaskApproved, func(f ws.Frame, name string) Notification {
		return Notification{Toast: Toast{Level: LevelInfo, Message: "custom"}, Title: name, Body: "custom"}
	})
	d.Dispatch(ws.Frame{Type: ws.TypePong})
	d.Dispatch(ws.Frame{Type: ws.TypePing})
	d.Dispatch(ws.Frame{Type: ws.KindTaskApproved, Content: "ok"})

	if len(rec.toasts) != 1 || rec.toasts[0].Message != "custom" || rec.titles[0] != "Bob" {
		t.Fatalf("registered handler not used: %+v %v", rec.toasts, rec.titles)
	}

	d.SetDisplayName("Robert")
	d.Register(ws.KindTaskApproved, nil)
	d.Dispatch(ws.Frame{Type: ws.KindTaskApproved, Content: "again", Timestamp: 2})
	if rec.titles[1] != "Robert，系统通知" {
		t.Fatalf("removed handler must fall back to generic, title=%q", rec.titles[1])
	}
}

func TestConsoleWritesToastAndNotification(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	d := NewDispatcher(c, c, "Alice")
	d.Dispatch(ws.Frame{Type: ws.KindSkipApproved})
	out := buf.String()
	if !strings.Contains(out, "[success] 跳过申请已同意") || !strings.Contains(out, "Alice，跳过申请已通过") {
		t.Fatalf("console output = %q", out)
	}
}
