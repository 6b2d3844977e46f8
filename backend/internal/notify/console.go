package notify

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Console 命令行下的展示端，同时实现 Presenter 和 Sink
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, now: time.Now}
}

func (c *Console) Toast(t Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s [%s] %s\n", c.now().Format("15:04:05"), t.Level, t.Message)
}

func (c *Console) Notify(title, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s >> %s: %s\n", c.now().Format("15:04:05"), title, body)
}
