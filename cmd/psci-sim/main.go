// cmd/psci-sim/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"tzcore-go/bus"
	"tzcore-go/errcode"
	"tzcore-go/services/config"
	"tzcore-go/services/coremon"
	"tzcore-go/services/mu"
	"tzcore-go/services/platform"
	"tzcore-go/services/platform/simsoc"
	"tzcore-go/services/psci"
	"tzcore-go/types"
)

const usage = `commands:
  boards                         list embedded boards
  config                         show the active platform config
  on <core> <entry> [ctx]        CPU_ON
  off <core>                     make a running core call CPU_OFF
  affinity <core>                AFFINITY_INFO
  suspend <power_state>          CPU_SUSPEND
  bootall                        release every secondary at the load address
  reset                          SYSTEM_RESET, then reboot the simulation
  smc <fid> [a1 [a2 [a3]]]       raw PSCI fast call from the boot core
  mu <cmd> [words...]            MU request, prints the answer
  stats                          MU transport counters
  state                          core states
  help | quit`

// ---------- Shell ----------

type shell struct {
	out   io.Writer
	cfg   types.PlatformConfig
	board *simsoc.Board
	plat  *platform.Platform
	conn  *bus.Connection
}

func newShell(out io.Writer, cfg types.PlatformConfig) (*shell, error) {
	b := bus.NewBus(32)
	conn := b.NewConnection("psci-sim")
	config.Publish(conn, cfg)

	board := simsoc.New(cfg)
	plat, err := platform.New(cfg, board.Mapper(), platform.Options{Conn: conn})
	if err != nil {
		return nil, err
	}
	board.Attach(plat.PSCI)
	return &shell{out: out, cfg: cfg, board: board, plat: plat, conn: conn}, nil
}

func (s *shell) close() { s.board.Shutdown() }

func num(args []string, i int, def uint32) (uint32, error) {
	if i >= len(args) {
		return def, nil
	}
	v, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", args[i])
	}
	return uint32(v), nil
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("%s: expected %d argument(s)", args[0], n-1)
	}
	return nil
}

func (s *shell) coord() (*psci.Coordinator, error) {
	if s.plat.PSCI == nil {
		return nil, fmt.Errorf("%s has no PSCI core control", s.cfg.Board)
	}
	return s.plat.PSCI, nil
}

// exec runs one command line. quit reports whether the shell should exit.
func (s *shell) exec(line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "help", "?":
		fmt.Fprintln(s.out, usage)
	case "quit", "exit":
		return true, nil
	case "boards":
		fmt.Fprintln(s.out, strings.Join(config.Boards(), " "))
	case "config":
		fmt.Fprintf(s.out, "%+v\n", s.cfg)
	case "on":
		return false, s.cmdOn(args)
	case "off":
		return false, s.cmdOff(args)
	case "affinity":
		return false, s.cmdAffinity(args)
	case "suspend":
		return false, s.cmdSuspend(args)
	case "bootall":
		c, err := s.coord()
		if err != nil {
			return false, err
		}
		c.BootAllCPUs()
		fmt.Fprintln(s.out, "ok")
	case "reset":
		return false, s.cmdReset()
	case "smc":
		return false, s.cmdSMC(args)
	case "mu":
		return false, s.cmdMU(args)
	case "stats":
		return false, s.cmdStats()
	case "state":
		return false, s.cmdState()
	default:
		return false, fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return false, nil
}

func (s *shell) cmdOn(args []string) error {
	if err := need(args, 3); err != nil {
		return err
	}
	c, err := s.coord()
	if err != nil {
		return err
	}
	core, err := num(args, 1, 0)
	if err != nil {
		return err
	}
	entry, err := num(args, 2, 0)
	if err != nil {
		return err
	}
	ctxID, err := num(args, 3, 0)
	if err != nil {
		return err
	}
	code := c.CPUOn(core, entry, ctxID)
	fmt.Fprintf(s.out, "%s (%d)\n", code, code.PSCI())
	return nil
}

func (s *shell) cmdOff(args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	core, err := num(args, 1, 0)
	if err != nil {
		return err
	}
	if err := s.board.Off(int(core)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "core %d parked\n", core)
	return nil
}

func (s *shell) cmdAffinity(args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	c, err := s.coord()
	if err != nil {
		return err
	}
	core, err := num(args, 1, 0)
	if err != nil {
		return err
	}
	st, err := c.AffinityInfo(context.Background(), core, 0)
	if err != nil {
		fmt.Fprintf(s.out, "%s (%d)\n", errcode.Of(err), errcode.Of(err).PSCI())
		return nil
	}
	fmt.Fprintln(s.out, st)
	return nil
}

func (s *shell) cmdSuspend(args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	c, err := s.coord()
	if err != nil {
		return err
	}
	ps, err := num(args, 1, 0)
	if err != nil {
		return err
	}
	code := c.CPUSuspend(ps, 0, 0, nil)
	fmt.Fprintf(s.out, "%s (%d)\n", code, code.PSCI())
	return nil
}

func (s *shell) cmdReset() error {
	c, err := s.coord()
	if err != nil {
		return err
	}
	simsoc.Diverge(func() { c.SystemReset(s.board.BootCPU()) })
	fmt.Fprintf(s.out, "watchdog wcr=0x%04x resets=%d\n", s.board.LastWCR(), s.board.Resets())
	s.board.Reboot()
	return nil
}

func (s *shell) cmdSMC(args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	c, err := s.coord()
	if err != nil {
		return err
	}
	var v [4]uint32
	for i := range v {
		if v[i], err = num(args, i+1, 0); err != nil {
			return err
		}
	}
	if v[0] == psci.FnCPUOff || v[0] == psci.FnSystemReset {
		return fmt.Errorf("use off / reset for calls that do not return")
	}
	r0 := c.Handle(context.Background(), s.board.BootCPU(), nil, v[0], v[1], v[2], v[3])
	fmt.Fprintf(s.out, "r0=0x%08x\n", r0)
	return nil
}

func (s *shell) cmdMU(args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	cmd, err := num(args, 1, 0)
	if err != nil {
		return err
	}
	words := args[2:]
	if len(words) > mu.MaxSize-1 {
		return fmt.Errorf("at most %d payload words", mu.MaxSize-1)
	}
	msg := &mu.Message{Header: mu.MakeHeader(1, uint8(len(words)+1), uint8(cmd), 0)}
	for i := range words {
		if msg.Data[i], err = num(words, i, 0); err != nil {
			return err
		}
	}
	if err := s.plat.MUCall(msg, true); err != nil {
		fmt.Fprintf(s.out, "%s tee=0x%08x\n", errcode.Of(err), errcode.Of(err).TEE())
		return nil
	}
	fmt.Fprintf(s.out, "hdr=0x%08x", uint32(msg.Header))
	for _, w := range msg.Payload() {
		fmt.Fprintf(s.out, " %#x", w)
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *shell) cmdStats() error {
	if s.plat.MU == nil {
		return fmt.Errorf("%s has no MU", s.cfg.Board)
	}
	st := s.plat.MU.Stats()
	fmt.Fprintf(s.out, "calls=%d sent=%d received=%d timeouts=%d errors=%d\n",
		st.Calls, st.Sent, st.Received, st.Timeouts, st.Errors)
	return nil
}

func (s *shell) cmdState() error {
	c, err := s.coord()
	if err != nil {
		return err
	}
	for n := 0; n < c.Cores(); n++ {
		e, ok := c.Entry(n)
		fmt.Fprintf(s.out, "core %d: %-9s running=%-5v", n, c.State(n), n == 0 || s.board.Running(n))
		if ok {
			fmt.Fprintf(s.out, " entry=0x%08x", e)
		}
		fmt.Fprintln(s.out)
	}
	return nil
}

// ---------- main ----------

func loadConfig(board, path string) (types.PlatformConfig, error) {
	if path == "" {
		return config.Load(board)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.PlatformConfig{}, err
	}
	return config.Decode(raw)
}

func main() {
	board := flag.String("board", "imx6q-sabresd", "embedded board config")
	cfgPath := flag.String("config", "", "platform config JSON file (overrides -board)")
	script := flag.String("e", "", "run ';'-separated commands and exit")
	watch := flag.Bool("watch", false, "log core state transitions")
	flag.Parse()

	cfg, err := loadConfig(*board, *cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	sh, err := newShell(os.Stdout, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "platform:", err)
		os.Exit(1)
	}
	defer sh.close()

	if *watch {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		(&coremon.Service{Interval: -1}).Start(ctx, sh.conn)
	}

	if *script != "" {
		for _, line := range strings.Split(*script, ";") {
			fmt.Printf("> %s\n", strings.TrimSpace(line))
			if quit, err := sh.exec(line); err != nil {
				fmt.Println("error:", err)
			} else if quit {
				return
			}
		}
		return
	}

	fmt.Printf("%s (%d cores, %q) - type help\n", cfg.Board, cfg.Cores, cfg.Variant)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("psci> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		quit, err := sh.exec(in.Text())
		if err != nil {
			fmt.Println("error:", err)
		}
		if quit {
			return
		}
	}
}
