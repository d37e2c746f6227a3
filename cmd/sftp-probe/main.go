// Command sftp-probe spawns an `ssh -s sftp` subprocess and drives the
// lowlevel engine through a handful of requests (realpath, stat, open,
// read, close), the way xtaci/kcptun's client/main.go drives a smux
// session over a freshly dialed KCP connection: this binary owns process
// spawning and request sequencing, concerns the engine itself never
// touches.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	lowlevel "github.com/nyngwang/sftp-lowlevel"
	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// VERSION is injected by buildflags, matching kcptun's client/main.go.
var VERSION = "SELFBUILD"

func main() {
	app := &cli.App{
		Name:    "sftp-probe",
		Usage:   "connect to a remote sftp-server over ssh and probe a path",
		Version: VERSION,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Aliases:  []string{"H"},
				Usage:    "ssh destination, e.g. user@example.com",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "path",
				Value: ".",
				Usage: "remote path to stat and list",
			},
			&cli.DurationFlag{
				Name:  "hello-timeout",
				Value: 10 * time.Second,
				Usage: "time to wait for the server's version reply",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("sftp-probe: %v", err)
	}
}

// sshPipe is the io.ReadWriter the engine speaks over: the spawned ssh
// subprocess's stdout wired to Read, its stdin wired to Write.
type sshPipe struct {
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func (p *sshPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *sshPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func run(c *cli.Context) error {
	host := c.String("host")
	remotePath := c.String("path")

	cmd := exec.Command("ssh", host, "-s", "sftp")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "opening ssh stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "opening ssh stdout")
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "spawning ssh -s sftp")
	}
	defer func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	config := lowlevel.DefaultConfig()
	config.HelloTimeout = c.Duration("hello-timeout")

	we, conn, err := lowlevel.Connect(context.Background(), &sshPipe{stdout: stdout, stdin: stdin}, config)
	if err != nil {
		return errors.Wrap(err, "sftp hello handshake")
	}

	probeErr := probe(we, remotePath)

	// Releasing the WriteEnd advances shutdown stage 0->1; Wait blocks
	// until the flush task has drained everything outstanding and the
	// read task has collected every in-flight response, the graceful
	// three-stage teardown from spec.md §4.6 rather than a hard Close.
	we.Close()
	if waitErr := conn.Wait(); waitErr != nil && probeErr == nil {
		probeErr = waitErr
	}
	return probeErr
}

func probe(we *lowlevel.WriteEnd, remotePath string) error {
	ctx := context.Background()

	realpathAw, err := we.Realpath(remotePath)
	if err != nil {
		return errors.Wrap(err, "sending realpath")
	}
	names, err := realpathAw.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "realpath reply")
	}
	resolved := remotePath
	if len(names.Entries) > 0 {
		resolved = names.Entries[0].Filename
	}
	fmt.Printf("realpath(%s) = %s\n", remotePath, resolved)

	statAw, err := we.Stat(resolved)
	if err != nil {
		return errors.Wrap(err, "sending stat")
	}
	attrs, err := statAw.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "stat reply")
	}
	fmt.Printf("stat(%s): size=%d perms=%o\n", resolved, attrs.Attrs.Size, attrs.Attrs.Permissions)

	if attrs.Attrs.Flags&protocol.AttrPermissions != 0 && attrs.Attrs.Permissions&0o170000 == 0o040000 {
		return probeDirectory(ctx, we, resolved)
	}
	return probeFile(ctx, we, resolved)
}

func probeDirectory(ctx context.Context, we *lowlevel.WriteEnd, path string) error {
	openAw, err := we.Opendir(path)
	if err != nil {
		return errors.Wrap(err, "sending opendir")
	}
	h, err := openAw.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "opendir reply")
	}

	closeAw, err := we.Readdir(h.Handle)
	if err != nil {
		return errors.Wrap(err, "sending readdir")
	}
	entries, err := closeAw.Wait(ctx)
	if err != nil && !isEOFStatus(err) {
		return errors.Wrap(err, "readdir reply")
	}
	for _, e := range entries.Entries {
		fmt.Printf("  %s\n", e.Longname)
	}

	_, err = we.CloseHandle(h.Handle)
	return err
}

func probeFile(ctx context.Context, we *lowlevel.WriteEnd, path string) error {
	openAw, err := we.Open(path, protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		return errors.Wrap(err, "sending open")
	}
	h, err := openAw.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "open reply")
	}

	dst := lowlevel.NewBytesBuffer()
	readAw, err := we.Read(h.Handle, 0, 4096, dst)
	if err != nil {
		return errors.Wrap(err, "sending read")
	}
	n, err := readAw.Wait(ctx)
	if err != nil && !isEOFStatus(err) {
		return errors.Wrap(err, "read reply")
	}
	fmt.Printf("read %d bytes\n", n)

	_, err = we.CloseHandle(h.Handle)
	return err
}

func isEOFStatus(err error) bool {
	var se *lowlevel.StatusError
	if errors.As(err, &se) {
		return se.Status.Code == protocol.SSHFXEOF
	}
	return false
}
