// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forksrv

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	path := filepath.Join(t.TempDir(), "target.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0755))
	return path
}

func TestProbeMapSize(t *testing.T) {
	bin := writeScript(t, `
if [ -n "$AFL_DUMP_MAP_SIZE" ]; then echo 65536; fi
`)
	size, err := ProbeMapSize(bin, 100)
	require.NoError(t, err)
	assert.Equal(t, 65636, size)
}

func TestProbeMapSizeIllegal(t *testing.T) {
	for _, body := range []string{"echo bogus", "true", "echo -7"} {
		_, err := ProbeMapSize(writeScript(t, body), 0)
		assert.Error(t, err, "body: %q", body)
	}
}

// fakeForkserver speaks just enough of the protocol: handshake on fd
// 199, then for every 4-byte wakeup on fd 198 it reports a child pid
// and the given wait status.
func fakeForkserver(status string) string {
	return `
printf 'OK00' >&199
while [ "$(dd bs=4 count=1 <&198 2>/dev/null | wc -c)" -eq 4 ]; do
  printf '\000\000\000\000' >&199
  printf '` + status + `' >&199
done
`
}

func newTestExecutor(t *testing.T, body string, timeout time.Duration) *Executor {
	t.Helper()
	e, err := New(Config{
		Bin:       writeScript(t, body),
		Timeout:   timeout,
		MapSize:   64,
		InputFile: filepath.Join(t.TempDir(), ".cur_input"),
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestRunNormal(t *testing.T) {
	e := newTestExecutor(t, fakeForkserver(`\000\000\000\000`), 5*time.Second)
	res, err := e.Run([]byte("input"))
	require.NoError(t, err)
	assert.Equal(t, StatusNormal, res.Status)
	assert.Len(t, res.Cover, 64)
	assert.Greater(t, res.Elapsed, time.Duration(0))
}

func TestRunCrash(t *testing.T) {
	// Wait status 0x8b: terminated by signal 11.
	e := newTestExecutor(t, fakeForkserver(`\213\000\000\000`), 5*time.Second)
	res, err := e.Run([]byte("boom"))
	require.NoError(t, err)
	assert.Equal(t, StatusCrash, res.Status)
}

func TestTimeoutIsolation(t *testing.T) {
	// The forkserver acknowledges the run child but never reports
	// completion: the run must classify as a hang, and the channel must
	// stay usable for the next execution.
	body := `
printf 'OK00' >&199
while [ "$(dd bs=4 count=1 <&198 2>/dev/null | wc -c)" -eq 4 ]; do
  printf '\000\000\000\000' >&199
  if [ ! -e "$0.hung" ]; then
    touch "$0.hung"
    sleep 60
  fi
  printf '\000\000\000\000' >&199
done
`
	e := newTestExecutor(t, body, 500*time.Millisecond)
	res, err := e.Run([]byte("hang"))
	require.NoError(t, err)
	assert.Equal(t, StatusHang, res.Status)
	assert.Equal(t, 1, e.Restarts())

	res, err = e.Run([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, StatusNormal, res.Status)
}

func TestHandshakeFailure(t *testing.T) {
	_, err := New(Config{
		Bin:       writeScript(t, "exit 0"),
		Timeout:   time.Second,
		MapSize:   64,
		InputFile: filepath.Join(t.TempDir(), ".cur_input"),
	})
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "normal", StatusNormal.String())
	assert.Equal(t, "crash", StatusCrash.String())
	assert.Equal(t, "hang", StatusHang.String())
}
