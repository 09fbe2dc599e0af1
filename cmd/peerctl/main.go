// Command peerctl is an operator's dial-up client for a peerslave
// daemon: submit one job through the wire intake protocol, or print the
// status/peers JSON a daemon's --http-addr exposes. It plays the same
// role as huaban-periodic's cmd/periodic/subcmd (SubmitJob/ShowStatus),
// adapted to the wire protocol and HTTP surface of this rewrite instead
// of that project's length-prefixed text commands.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/codegangsta/cli"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
)

func main() {
	app := cli.NewApp()
	app.Name = "peerctl"
	app.Usage = "operator client for a peerslave daemon"
	app.Commands = []cli.Command{
		{
			Name:  "submit",
			Usage: "submit a job through the intake wire protocol",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "H", Value: "tcp://127.0.0.1:0", Usage: "intake address, e.g. tcp://host:port or unix:///path"},
				cli.IntFlag{Name: "id", Value: 1, Usage: "job id"},
				cli.StringFlag{Name: "arg", Value: "", Usage: "job argument payload"},
				cli.StringFlag{Name: "opt", Value: "", Usage: "job options payload"},
				cli.StringFlag{Name: "name", Value: "peerctl", Usage: "submitter name"},
				cli.StringFlag{Name: "user", Value: "", Usage: "submitter user"},
			},
			Action: func(c *cli.Context) {
				if err := submit(c); err != nil {
					log.Fatal(err)
				}
			},
		},
		{
			Name:  "status",
			Usage: "print a daemon's /status and /peers over its HTTP API",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "http", Value: "http://127.0.0.1:8080", Usage: "the daemon's --http-addr base URL"},
			},
			Action: func(c *cli.Context) {
				if err := status(c); err != nil {
					log.Fatal(err)
				}
			},
		},
	}
	app.Run(os.Args)
}

func dial(entryPoint string) (network, address string) {
	parts := strings.SplitN(entryPoint, "://", 2)
	if len(parts) != 2 {
		log.Fatalf("peerctl: bad address %q, want network://address", entryPoint)
	}
	return parts[0], parts[1]
}

// submit runs the submitter side of spec.md §4.3's handshake, the wire
// counterpart of internal/intake.Server.handle.
func submit(c *cli.Context) error {
	network, address := dial(c.String("H"))
	conn, err := net.Dial(network, address)
	if err != nil {
		return fmt.Errorf("peerctl: dial %s %s: %w", network, address, err)
	}
	defer conn.Close()

	if ok, err := wire.ReadHandshake(conn); err != nil || !ok {
		return fmt.Errorf("peerctl: daemon refused connection (err=%v)", err)
	}

	self := registry.HostDescriptor{
		ID:   uint32(os.Getpid()),
		Name: c.String("name"),
		User: c.String("user"),
	}
	wireSelf := registry.ToWireHost(self)
	if err := wire.WriteStruct(conn, &wireSelf); err != nil {
		return fmt.Errorf("peerctl: write host descriptor: %w", err)
	}
	ok, err := wire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("peerctl: read host handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("peerctl: submission denied (access list or host busy)")
	}

	arg := []byte(c.String("arg"))
	opt := []byte(c.String("opt"))
	def := wire.JobDef{
		Version: wire.ProtocolVersion,
		ID:      uint32(c.Int("id")),
		ArgSize: uint32(len(arg)),
		OptSize: uint32(len(opt)),
	}
	if err := wire.WriteStruct(conn, &def); err != nil {
		return fmt.Errorf("peerctl: write job def: %w", err)
	}
	if ok, err := wire.ReadHandshake(conn); err != nil || !ok {
		return fmt.Errorf("peerctl: job def rejected (err=%v)", err)
	}

	if _, err := conn.Write(arg); err != nil {
		return fmt.Errorf("peerctl: write arg: %w", err)
	}
	if ok, err := wire.ReadHandshake(conn); err != nil || !ok {
		return fmt.Errorf("peerctl: arg rejected (err=%v)", err)
	}

	if _, err := conn.Write(opt); err != nil {
		return fmt.Errorf("peerctl: write opt: %w", err)
	}
	if ok, err := wire.ReadHandshake(conn); err != nil || !ok {
		return fmt.Errorf("peerctl: opt rejected (err=%v)", err)
	}

	fmt.Printf("submitted job %d\n", def.ID)
	return nil
}

func status(c *cli.Context) error {
	base := strings.TrimRight(c.String("http"), "/")
	if err := printJSON(base + "/status"); err != nil {
		return err
	}
	return printJSON(base + "/peers")
}

func printJSON(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("peerctl: get %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("peerctl: read %s: %w", url, err)
	}
	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("%s:\n%s\n", url, out)
	return nil
}
