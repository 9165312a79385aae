package configs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lvzhenqian/console/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct {
	values []int
}

func (s staticConfig) Reload(update chan<- int) {
	for _, v := range s.values {
		update <- v
	}
	close(update)
}

type collectModule struct {
	got  chan int
	done chan struct{}
}

func (m *collectModule) Name() string { return "collect" }

func (m *collectModule) Watch(update <-chan int) {
	for v := range update {
		m.got <- v
	}
	close(m.done)
}

func TestManager_FansOut(t *testing.T) {
	release := make(chan int)
	cfg := chanConfig(release)
	manager := NewManager[int](cfg)
	m := &collectModule{got: make(chan int, 4), done: make(chan struct{})}
	manager.AddModule(m)

	release <- 1
	release <- 2
	assert.Equal(t, 1, <-m.got)
	assert.Equal(t, 2, <-m.got)
	require.Eventually(t, func() bool {
		d := manager.Data()
		return d != nil && *d == 2
	}, time.Second, 10*time.Millisecond)

	close(release)
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("module channel not closed")
	}
}

type chanConfig chan int

func (c chanConfig) Reload(update chan<- int) {
	for v := range c {
		update <- v
	}
	close(update)
}

func TestManager_RemoveModule(t *testing.T) {
	manager := NewManager[int](staticConfig{})
	m := &collectModule{got: make(chan int, 1), done: make(chan struct{})}
	manager.AddModule(m)
	manager.RemoveModule("collect")
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("module channel not closed")
	}
}

func TestLogFile_ReadConfig(t *testing.T) {
	name := filepath.Join(t.TempDir(), "logs.yaml")
	require.NoError(t, os.WriteFile(name, []byte("channels: [connect, ssh]\nconsole: warn\n"), 0o644))

	conf, err := LogFile(name).ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"connect", "ssh"}, conf.Channels)
	assert.Equal(t, "warn", conf.Console)
	assert.Equal(t, "connect,ssh", conf.Selection())

	require.NoError(t, os.WriteFile(name, []byte("console: loud\n"), 0o644))
	_, err = LogFile(name).ReadConfig()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(name, []byte("channels: [\n"), 0o644))
	_, err = LogFile(name).ReadConfig()
	require.Error(t, err)
}

func TestLogModule_Apply(t *testing.T) {
	r := log.NewRegistry(log.WithConsole(nil, false), log.WithNotice(io.Discard))
	r.GetLogger("connect")
	r.GetLogger("ssh")

	m := &LogModule{Registry: r}
	require.NoError(t, m.Apply(LogConfig{Channels: []string{"connect", "later"}}))
	assert.True(t, r.IsEnabled("connect"))
	assert.False(t, r.IsEnabled("ssh"))
	r.GetLogger("later")
	assert.True(t, r.IsEnabled("later"))

	require.NoError(t, m.Apply(LogConfig{Channels: []string{"all"}}))
	assert.True(t, r.IsEnabled("ssh"))

	require.Error(t, m.Apply(LogConfig{Console: "loud"}))
}

func TestFileManager_ReloadsOnWrite(t *testing.T) {
	name := filepath.Join(t.TempDir(), "logs.yaml")
	require.NoError(t, os.WriteFile(name, []byte("channels: []\n"), 0o644))

	r := log.NewRegistry(log.WithConsole(nil, false), log.WithNotice(io.Discard))
	r.GetLogger("connect")

	applied := make(chan LogConfig, 8)
	manager, err := NewFileManger[LogConfig](LogFile(name), nil)
	require.NoError(t, err)
	defer manager.Close()
	manager.AddModule(&LogModule{Registry: r, Applied: func(c LogConfig) { applied <- c }})

	require.NoError(t, os.WriteFile(name, []byte("channels: [connect]\n"), 0o644))
	require.Eventually(t, func() bool {
		return r.IsEnabled("connect")
	}, 3*time.Second, 20*time.Millisecond)
	// a truncating write may be seen half done, wait for the full one
	for {
		select {
		case conf := <-applied:
			if len(conf.Channels) > 0 {
				assert.Equal(t, []string{"connect"}, conf.Channels)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("config not applied")
		}
	}
}
