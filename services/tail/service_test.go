package tail

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gf2influx/gf2influx/keyvalue"
	itoml "github.com/influxdata/influxdb/toml"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDiag struct {
	mu        sync.Mutex
	waiting   int
	opened    []int64
	truncated int
	recreated int
	errs      []error
}

func (d *testDiag) Error(msg string, err error, ctx ...keyvalue.T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *testDiag) WaitingForFile(string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiting++
}

func (d *testDiag) OpenedFile(path string, offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, offset)
}

func (d *testDiag) Truncated(string, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.truncated++
}

func (d *testDiag) Recreated(string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recreated++
}

func (d *testDiag) WatcherUnavailable(error) {}
func (d *testDiag) ClosedService() {}

func (d *testDiag) openedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func openService(t *testing.T, path string, modify func(c *Config)) (*Service, *testDiag) {
	t.Helper()
	c := NewConfig()
	c.Path = path
	c.PollInterval = itoml.Duration(10 * time.Millisecond)
	if modify != nil {
		modify(&c)
	}
	d := new(testDiag)
	s := NewService(c, d)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s, d
}

func receive(t *testing.T, s *Service, n int) []string {
	t.Helper()
	lines := make([]string, 0, n)
	timeout := time.After(5 * time.Second)
	for len(lines) < n {
		select {
		case l := <-s.Lines():
			lines = append(lines, string(l))
		case err := <-s.Err():
			t.Fatalf("unexpected stream error: %v", err)
		case <-timeout:
			t.Fatalf("timed out after receiving %q", lines)
		}
	}
	return lines
}

func assertNoLine(t *testing.T, s *Service) {
	t.Helper()
	select {
	case l := <-s.Lines():
		t.Fatalf("unexpected line %q", l)
	case <-time.After(50 * time.Millisecond):
	}
}

func appendTo(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestService_StartsAtEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "old\n")

	s, d := openService(t, path, nil)
	require.Eventually(t, func() bool { return d.openedCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{4}, d.opened)

	appendTo(t, path, "new 1\nnew 2\n")
	assert.Equal(t, []string{"new 1\n", "new 2\n"}, receive(t, s, 2))
	assertNoLine(t, s)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.Metrics.LinesRead) == 2
	}, 5*time.Second, 5*time.Millisecond)
}

func TestService_FromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "a\nb\n")

	s, _ := openService(t, path, func(c *Config) { c.FromStart = true })
	assert.Equal(t, []string{"a\n", "b\n"}, receive(t, s, 2))
}

func TestService_WaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")

	s, d := openService(t, path, nil)
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.waiting == 1
	}, 5*time.Second, 5*time.Millisecond)
	assertNoLine(t, s)

	// A file appearing after startup is read from its beginning.
	appendTo(t, path, "first\nsecond\n")
	assert.Equal(t, []string{"first\n", "second\n"}, receive(t, s, 2))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.waiting)
	assert.Equal(t, []int64{0}, d.opened)
}

func TestService_PartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "")

	s, d := openService(t, path, nil)
	require.Eventually(t, func() bool { return d.openedCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	appendTo(t, path, `{"type":`)
	assertNoLine(t, s)
	appendTo(t, path, `"FLOW"}`+"\n")
	assert.Equal(t, []string{`{"type":"FLOW"}` + "\n"}, receive(t, s, 1))
}

func TestService_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "aaaaaaaaaa\nbbbbbbbbbb\n")

	s, d := openService(t, path, func(c *Config) { c.FromStart = true })
	assert.Equal(t, []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n"}, receive(t, s, 2))

	require.NoError(t, os.WriteFile(path, []byte("c\n"), 0644))
	assert.Equal(t, []string{"c\n"}, receive(t, s, 1))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.truncated)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.FileRotations.WithLabelValues("truncated")))
}

func TestService_Recreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "x\npartial")

	s, d := openService(t, path, func(c *Config) { c.FromStart = true })
	assert.Equal(t, []string{"x\n"}, receive(t, s, 1))

	require.NoError(t, os.Rename(path, path+".1"))
	appendTo(t, path, "y\n")

	// The unterminated tail of the old file is delivered as is.
	assert.Equal(t, []string{"partial", "y\n"}, receive(t, s, 2))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.recreated)
	assert.Equal(t, []int64{0, 0}, d.opened)
}

func TestService_MaxLineSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "0123456789")

	s, _ := openService(t, path, func(c *Config) {
		c.FromStart = true
		c.MaxLineSize = 8
	})
	assert.Equal(t, []string{"0123456789"}, receive(t, s, 1))
}

func TestService_Ready(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netflow.log")
	appendTo(t, path, "a\n")

	s, _ := openService(t, path, func(c *Config) { c.FromStart = true })
	require.Eventually(t, s.Ready, 5*time.Second, 5*time.Millisecond)
	receive(t, s, 1)
	assert.False(t, s.Ready())
}

func TestService_UnreadablePath(t *testing.T) {
	path := t.TempDir()

	s, d := openService(t, path, func(c *Config) { c.FromStart = true })
	select {
	case err := <-s.Err():
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected stream error")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.errs, 1)
}

func TestService_CloseTwice(t *testing.T) {
	c := NewConfig()
	c.Path = filepath.Join(t.TempDir(), "netflow.log")
	s := NewService(c, new(testDiag))
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())
	assert.Error(t, s.Close())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewConfig().Validate())

	c := NewConfig()
	c.Path = ""
	assert.Error(t, c.Validate())

	c = NewConfig()
	c.PollInterval = 0
	assert.Error(t, c.Validate())

	c = NewConfig()
	c.MaxLineSize = 0
	assert.Error(t, c.Validate())
}
