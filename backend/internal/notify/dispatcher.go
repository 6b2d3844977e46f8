package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"collab-session/backend/internal/ws"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast 应用内提示
type Toast struct {
	Kind     string
	Level    Level
	Message  string
	Duration time.Duration // 0 表示使用展示端默认时长
	Closable bool
}

// Notification 一帧推送最终的展示结果：一条提示 + 一条系统通知
type Notification struct {
	Toast Toast
	Title string
	Body  string
}

// Presenter 展示应用内提示
type Presenter interface {
	Toast(t Toast)
}

// Sink 系统级通知
type Sink interface {
	Notify(title, body string)
}

// Handler 把一帧推送渲染成展示内容；name 是当前用户的展示名
type Handler func(f ws.Frame, name string) Notification

// Dispatcher 按 type 路由推送；未注册的类型走通用处理，不会被丢弃
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	fallback  Handler
	presenter Presenter
	sink      Sink
	name      string
}

func NewDispatcher(p Presenter, s Sink, displayName string) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[string]Handler),
		fallback:  genericHandler,
		presenter: p,
		sink:      s,
		name:      displayName,
	}
	for kind, h := range builtinHandlers() {
		d.handlers[kind] = h
	}
	return d
}

// Register 覆盖或新增某个类型的处理
func (d *Dispatcher) Register(kind string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, kind)
		return
	}
	d.handlers[kind] = h
}

func (d *Dispatcher) SetDisplayName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// Dispatch 每帧恰好产生一条提示和一条系统通知；心跳帧忽略
func (d *Dispatcher) Dispatch(f ws.Frame) {
	if f.IsHeartbeat() {
		return
	}
	d.mu.RLock()
	h, ok := d.handlers[f.Type]
	if !ok {
		h = d.fallback
	}
	name := d.name
	if name == "" {
		name = "您"
	}
	presenter, sink := d.presenter, d.sink
	d.mu.RUnlock()

	n := h(f, name)
	n.Toast.Kind = f.Type
	if presenter != nil {
		presenter.Toast(n.Toast)
	}
	if sink != nil {
		sink.Notify(n.Title, n.Body)
	}
	log.Printf("[notify] %s -> %s", f.Type, n.Title)
}

func simple(level Level, title, defaultMsg string) Handler {
	return func(f ws.Frame, name string) Notification {
		msg := f.Text()
		if msg == "" {
			msg = defaultMsg
		}
		return Notification{
			Toast: Toast{Level: level, Message: msg},
			Title: fmt.Sprintf("%s，%s", name, title),
			Body:  msg,
		}
	}
}

func builtinHandlers() map[string]Handler {
	return map[string]Handler{
		ws.KindTaskSubmitted: func(f ws.Frame, name string) Notification {
			pending := 0
			if f.Pending != nil {
				pending = *f.Pending
			}
			msg := fmt.Sprintf("%s（待审核：%d）", f.Text(), pending)
			return Notification{
				Toast: Toast{Level: LevelSuccess, Message: msg},
				Title: fmt.Sprintf("%s，有新任务待审核", name),
				Body:  msg,
			}
		},
		ws.KindSkipRequested: simple(LevelInfo, "有新的跳过申请", "有新的跳过申请"),
		ws.KindTaskApproved:  simple(LevelSuccess, "恭喜任务通过！", "任务审核通过"),
		ws.KindTaskRejected:  simple(LevelWarning, "您的任务需要修订", "任务需修订，请修改"),
		ws.KindSkipApproved:  simple(LevelSuccess, "跳过申请已通过", "跳过申请已同意"),
		ws.KindSkipRejected:  simple(LevelWarning, "跳过申请被拒绝", "跳过申请被拒绝"),
		ws.KindWorkEndReminder: func(f ws.Frame, name string) Notification {
			msg := f.Text()
			if msg == "" {
				msg = "请及时保存文件，填写好今天的工作日志，下班请关电脑！"
			}
			return Notification{
				Toast: Toast{Level: LevelWarning, Message: msg, Duration: 10 * time.Second, Closable: true},
				Title: fmt.Sprintf("%s，该下班了~", name),
				Body:  msg,
			}
		},
	}
}

// 通用处理：high 优先级 warning 8 秒，其余 info 5 秒
func genericHandler(f ws.Frame, name string) Notification {
	msg := f.Text()
	if msg == "" {
		msg = "您有新的通知"
	}
	title := fmt.Sprintf("%s，系统通知", name)
	if f.Title != "" {
		title = fmt.Sprintf("%s，%s", name, f.Title)
	}
	toast := Toast{Level: LevelInfo, Message: msg, Duration: 5 * time.Second, Closable: true}
	if f.Priority == ws.PriorityHigh {
		toast.Level = LevelWarning
		toast.Duration = 8 * time.Second
	}
	return Notification{Toast: toast, Title: title, Body: msg}
}
