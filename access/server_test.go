package access_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/client"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

const (
	procX     = 1
	procY     = 1
	unitWords = 16
	unitBytes = unitWords * 4
)

type rig struct {
	engine  *sim.SerialEngine
	grid    *sim.MemGrid
	machine *processor.Machine
	proc    *processor.Processor
	clock   *processor.Clock
	root    string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newRig() *rig {
	params := processor.DefaultParams()
	params.Schema = processor.CurrentSchema().WithUnitWords(unitWords)
	params.ROMSize = 2 * unitBytes
	params.RAMSize = 3 * unitBytes

	r := &rig{
		engine: sim.NewSerialEngine(1 * sim.KHz),
		grid:   sim.NewMemGrid(),
		root:   GinkgoT().TempDir(),
		done:   make(chan struct{}),
	}

	var err error
	r.machine, err = processor.Provision(r.grid, procX, procY, params)
	Expect(err).NotTo(HaveOccurred())

	var ok bool
	r.proc, ok = processor.Resolve(r.grid, procX, procY, params.Schema)
	Expect(ok).To(BeTrue())

	r.clock = processor.NewClock(r.machine, r.proc)
	r.clock.Loopback = true
	r.engine.RegisterTicker(r.clock)

	r.ctx, r.cancel = context.WithCancel(context.Background())

	go func() {
		defer GinkgoRecover()
		defer close(r.done)

		Expect(r.engine.Run(r.ctx)).To(Succeed())
	}()

	return r
}

func (r *rig) builder() access.Builder {
	return access.MakeBuilder().
		WithHost("127.0.0.1").
		WithPort(0).
		WithPollInterval(2 * time.Millisecond).
		WithLogger(log.New(GinkgoWriter, "[access] ", 0)).
		WithLocalRoot(r.root)
}

func (r *rig) onSim(work func() error) {
	Expect(sim.Do(r.ctx, r.engine, work)).To(Succeed())
}

func (r *rig) close() {
	r.cancel()
	Eventually(r.done).Should(BeClosed())
}

func dial(s *access.Server) *client.Client {
	c, err := client.Dial(context.Background(), s.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(c.Close)

	return c.WithLogger(log.New(GinkgoWriter, "[client] ", 0))
}

func ctxWithTimeout() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	DeferCleanup(cancel)

	return ctx
}

var _ = Describe("Server", func() {
	var (
		r      *rig
		server *access.Server
		ctx    context.Context
	)

	BeforeEach(func() {
		r = newRig()
		server = r.builder().Build(r.engine, r.proc)
		Expect(server.Start(context.Background())).To(Succeed())
		ctx = ctxWithTimeout()
	})

	AfterEach(func() {
		server.Stop()
		r.close()
	})

	It("should refuse to start twice", func() {
		Expect(server.Running()).To(BeTrue())
		Expect(server.Start(context.Background())).
			To(MatchError(sim.ErrInvalidArgument))
	})

	It("should report bind failures", func() {
		port := server.Addr().(*net.TCPAddr).Port
		other := r.builder().WithPort(port).Build(r.engine, r.proc)

		Expect(other.Start(context.Background())).To(MatchError(sim.ErrRuntime))
		Expect(other.Running()).To(BeFalse())
		Expect(other.Addr()).To(BeNil())
	})

	It("should report the processor status", func() {
		c := dial(server)

		s, err := c.Status(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(s.Running).To(BeFalse())
		Expect(s.State).To(Equal("idle"))
		Expect(s.PrivilegeMode).To(HaveValue(Equal(uint32(3))))
		Expect(s.Registers).To(HaveLen(processor.NumRegisters))
	})

	It("should answer a malformed frame and keep the session", func() {
		c := dial(server)

		Expect(c.SendLine([]byte(`{"type":`))).To(Succeed())
		Expect(c.Send(access.StatusRequest{})).To(Succeed())

		first, err := c.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(BeAssignableToTypeOf(access.ErrorResponse{}))
		Expect(first.(access.ErrorResponse).Message).
			To(HavePrefix("Bad request: "))

		second, err := c.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeAssignableToTypeOf(access.StatusResponse{}))
	})

	It("should answer requests in order", func() {
		c := dial(server)

		Expect(c.SendLine([]byte(
			`{"type":"start","singleStep":false}` + "\n" +
				`{"type":"status"}` + "\n" +
				`{"type":"stop"}`))).To(Succeed())

		var got []string
		for i := 0; i < 3; i++ {
			resp, err := c.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			got = append(got, resp.ResponseType())
		}

		Expect(got).To(Equal([]string{
			access.TypeSuccess, access.TypeStatus, access.TypeSuccess,
		}))
	})

	It("should control the processor", func() {
		c := dial(server)

		msg, err := c.Start(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal("Processor started."))

		msg, err = c.Wait(ctx, false, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal("Processor has paused."))

		msg, err = c.Unpause(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal("Processor unpaused."))

		msg, err = c.Stop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal("Processor stopped."))

		r.onSim(func() error {
			Expect(r.machine.Power.Enabled()).To(BeFalse())
			Expect(r.machine.Pause.Enabled()).To(BeFalse())
			Expect(r.machine.SingleStep.Enabled()).To(BeFalse())

			return nil
		})
	})

	It("should reject unpausing a stopped processor", func() {
		c := dial(server)

		_, err := c.Unpause(ctx)

		Expect(err).To(MatchError(HavePrefix("Bad request: ")))
		Expect(err).To(MatchError(ContainSubstring("not running")))
	})

	It("should wait until another client stops the processor", func() {
		c1 := dial(server)
		c2 := dial(server)

		_, err := c1.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		result := make(chan string, 1)
		go func() {
			defer GinkgoRecover()

			msg, err := c1.Wait(ctx, true, false)
			Expect(err).NotTo(HaveOccurred())
			result <- msg
		}()

		Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

		_, err = c2.Stop(ctx)
		Expect(err).NotTo(HaveOccurred())

		Eventually(result).Should(Receive(Equal("Processor has stopped.")))
	})

	// closedRequests reports the lines of requests that ended by closing the
	// session instead of answering.
	closedRequests := func() <-chan string {
		lines := make(chan string, 8)

		server.AcceptHook(sim.HookFunc(func(hc sim.HookCtx) {
			if hc.Pos != access.HookPosRequestEnd {
				return
			}

			if info := hc.Detail.(*access.RequestInfo); info.Response == nil {
				lines <- info.Line
			}
		}))

		return lines
	}

	It("should notice a client leaving during wait with input queued", func() {
		closed := closedRequests()

		c := dial(server)
		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		Expect(c.SendLine([]byte(`{"type":"wait","stopped":true}`))).To(Succeed())
		Expect(c.SendLine([]byte(`{"type":"status"}`))).To(Succeed())
		Consistently(closed, 20*time.Millisecond).ShouldNot(Receive())

		Expect(c.Close()).To(Succeed())

		Eventually(closed, 200*time.Millisecond).
			Should(Receive(ContainSubstring(`"type":"wait"`)))
	})

	It("should notice a client leaving an rx stream it typed into", func() {
		closed := closedRequests()

		c := dial(server)
		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		stream, err := dial(server).Serial(access.SerialRequest{
			Device:    "uart2",
			Direction: access.DirectionRX,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = stream.Write([]byte("abc"))
		Expect(err).NotTo(HaveOccurred())
		Consistently(closed, 20*time.Millisecond).ShouldNot(Receive())

		Expect(stream.Close()).To(Succeed())

		Eventually(closed, 200*time.Millisecond).
			Should(Receive(ContainSubstring(`"type":"serial"`)))
	})

	It("should notice a client leaving a tx stream", func() {
		closed := closedRequests()

		c := dial(server)
		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		stream, err := dial(server).Serial(access.SerialRequest{
			Device:    "uart2",
			Direction: access.DirectionTX,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = stream.Write([]byte("abc"))
		Expect(err).NotTo(HaveOccurred())
		Expect(stream.Close()).To(Succeed())

		Eventually(closed, 200*time.Millisecond).
			Should(Receive(ContainSubstring(`"type":"serial"`)))
	})

	It("should flash a file into ROM", func() {
		image := make([]byte, unitBytes+8)
		for i := range image {
			image[i] = byte(i)
		}

		path := filepath.Join(r.root, "image.bin")
		Expect(os.WriteFile(path, image, 0o644)).To(Succeed())

		c := dial(server)
		msg, err := c.Flash(ctx, path)

		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal(fmt.Sprintf(
			"Successfully flashed %d bytes from %s to ROM.", len(image), path)))

		enc := r.proc.Schema().Encoding
		r.onSim(func() error {
			first, err := enc.Decode(r.machine.ROM[0].Code())
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(image[:unitBytes]))

			second, err := enc.Decode(r.machine.ROM[1].Code())
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(image[unitBytes:]))

			return nil
		})
	})

	It("should reject a missing image", func() {
		c := dial(server)

		_, err := c.Flash(ctx, filepath.Join(r.root, "missing.bin"))

		Expect(err).To(MatchError(ContainSubstring("file not found")))
	})

	It("should reject an image larger than ROM", func() {
		path := filepath.Join(r.root, "big.bin")
		Expect(os.WriteFile(path, make([]byte, 3*unitBytes), 0o644)).To(Succeed())

		c := dial(server)
		_, err := c.Flash(ctx, path)

		Expect(err).To(MatchError(HavePrefix("Bad request: ")))
	})

	It("should dump all of RAM by default", func() {
		data := make([]byte, 3*unitBytes)
		for i := range data {
			data[i] = byte(255 - i)
		}

		ramStart := r.proc.Descriptor().Layout.RAM.Start
		r.onSim(func() error {
			_, err := r.proc.Flasher().Load(ramStart, data, nil)
			return err
		})

		path := filepath.Join(r.root, "out", "nested", "ram.bin")
		c := dial(server)
		msg, err := c.Dump(ctx, path, client.DumpOptions{})

		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal(fmt.Sprintf(
			"Successfully dumped %d bytes from RAM to %s.", len(data), path)))
		Expect(os.ReadFile(path)).To(Equal(data))
	})

	It("should dump a range relative to the local root", func() {
		ramStart := r.proc.Descriptor().Layout.RAM.Start
		r.onSim(func() error {
			_, err := r.proc.Flasher().Load(ramStart+8,
				[]byte{0xde, 0xad, 0xbe, 0xef}, nil)
			return err
		})

		c := dial(server)
		address := ramStart + 8
		count := 4
		absolute := false
		resp, err := c.Do(ctx, access.DumpRequest{
			Path:     "dumps/word.bin",
			Address:  &address,
			Bytes:    &count,
			Absolute: &absolute,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(BeAssignableToTypeOf(access.SuccessResponse{}))
		Expect(os.ReadFile(filepath.Join(r.root, "dumps", "word.bin"))).
			To(Equal([]byte{0xde, 0xad, 0xbe, 0xef}))
	})

	It("should reject a dump outside RAM", func() {
		c := dial(server)
		address := uint32(0)

		_, err := c.Dump(ctx, filepath.Join(r.root, "x.bin"),
			client.DumpOptions{Address: &address})

		Expect(err).To(MatchError(HavePrefix("Bad request: ")))
		Expect(filepath.Join(r.root, "x.bin")).NotTo(BeAnExistingFile())
	})

	It("should echo serial data", func() {
		c := dial(server)
		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		stream, err := dial(server).Serial(access.SerialRequest{
			Device:           "uart1",
			Direction:        access.DirectionBoth,
			DisconnectOnHalt: true,
		})
		Expect(err).NotTo(HaveOccurred())

		out := gbytes.NewBuffer()
		go func() {
			_, _ = io.Copy(out, stream)
			_ = out.Close()
		}()

		_, err = stream.Write([]byte("hello\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(out).Should(gbytes.Say("hello\n"))

		_, err = c.Stop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Eventually(out.Closed).Should(BeTrue())
	})

	It("should only receive on an rx stream", func() {
		c := dial(server)
		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		stream, err := dial(server).Serial(access.SerialRequest{
			Device:    "uart0",
			Direction: access.DirectionRX,
		})
		Expect(err).NotTo(HaveOccurred())

		out := gbytes.NewBuffer()
		go func() { _, _ = io.Copy(out, stream) }()

		r.onSim(func() error {
			r.proc.UART(0).Peer().WriteBytes([]byte("boot ok"))
			return nil
		})

		Eventually(out).Should(gbytes.Say("boot ok"))
	})

	It("should report a halted processor on a serial stream", func() {
		stream, err := dial(server).Serial(access.SerialRequest{
			Device:     "uart3",
			Direction:  access.DirectionBoth,
			StopOnHalt: true,
		})
		Expect(err).NotTo(HaveOccurred())

		out := gbytes.NewBuffer()
		go func() { _, _ = io.Copy(out, stream) }()

		Eventually(out).Should(gbytes.Say(
			`"type":"error","message":"Request failed: .*processor stopped"`))
	})

	It("should reject an unknown serial device", func() {
		c := dial(server)

		_, err := c.Do(ctx, access.SerialRequest{Device: "uart9"})

		Expect(err).To(MatchError(HavePrefix("Bad request: ")))
	})

	It("should close a session when the server stops", func() {
		c := dial(server)

		_, err := c.Start(ctx, false)
		Expect(err).NotTo(HaveOccurred())

		result := make(chan error, 1)
		go func() {
			_, err := c.Wait(ctx, true, false)
			result <- err
		}()

		Consistently(result, 20*time.Millisecond).ShouldNot(Receive())

		r.onSim(func() error {
			server.Stop()
			return nil
		})

		Eventually(result).Should(Receive(HaveOccurred()))
		Expect(server.Running()).To(BeFalse())
	})

	It("should stop accepting once the processor is removed", func() {
		c := dial(server)
		_, err := c.Status(ctx)
		Expect(err).NotTo(HaveOccurred())

		r.onSim(func() error {
			r.grid.Remove(procX, procY)
			return nil
		})

		_, err = c.Status(ctx)
		Expect(err).To(MatchError(HavePrefix("Request failed: ")))

		late := dial(server)
		_, err = late.Status(ctx)
		Expect(err).To(HaveOccurred())

		Eventually(server.Running).Should(BeFalse())
	})

	It("should start again after the accept loop ended", func() {
		r.onSim(func() error {
			r.grid.Remove(procX, procY)
			return nil
		})

		late := dial(server)
		_, err := late.Status(ctx)
		Expect(err).To(HaveOccurred())
		Eventually(server.Running).Should(BeFalse())

		Expect(server.Start(context.Background())).To(Succeed())
		Expect(server.Running()).To(BeTrue())
		Expect(server.Addr()).NotTo(BeNil())
	})

	It("should invoke request hooks", func() {
		var started, ended atomic.Int32
		var lastLine atomic.Value

		server.AcceptHook(sim.HookFunc(func(hc sim.HookCtx) {
			switch hc.Pos {
			case access.HookPosRequestStart:
				started.Add(1)
			case access.HookPosRequestEnd:
				ended.Add(1)

				info := hc.Detail.(*access.RequestInfo)
				Expect(info.Response).NotTo(BeNil())
				Expect(info.End).NotTo(BeTemporally("<", info.Start))
				lastLine.Store(info.Line)
			}
		}))

		c := dial(server)
		_, err := c.Status(ctx)
		Expect(err).NotTo(HaveOccurred())

		Eventually(ended.Load).Should(Equal(int32(1)))
		Expect(started.Load()).To(Equal(int32(1)))
		Expect(lastLine.Load()).To(Equal(`{"type":"status"}`))
	})

	It("should report transfer progress", func() {
		var last atomic.Value

		server.AcceptHook(sim.HookFunc(func(hc sim.HookCtx) {
			if hc.Pos == access.HookPosTransfer {
				last.Store(hc.Item.(access.TransferProgress))
			}
		}))

		path := filepath.Join(r.root, "progress.bin")
		Expect(os.WriteFile(path, bytes.Repeat([]byte{1}, 2*unitBytes), 0o644)).
			To(Succeed())

		_, err := dial(server).Flash(ctx, path)
		Expect(err).NotTo(HaveOccurred())

		p, ok := last.Load().(access.TransferProgress)
		Expect(ok).To(BeTrue())
		Expect(p.SessionID).NotTo(BeEmpty())
		Expect(p.Kind).To(Equal(access.TypeFlash))
		Expect(p.Path).To(Equal(path))
		Expect(p.Done).To(Equal(2 * unitBytes))
		Expect(p.Total).To(Equal(2 * unitBytes))
	})
})

var _ = Describe("Manager", func() {
	var (
		r   *rig
		mgr *access.Manager
	)

	BeforeEach(func() {
		r = newRig()
		mgr = access.NewManager()
	})

	AfterEach(func() {
		mgr.StopAll()
		r.close()
	})

	It("should replace the server of a processor", func() {
		first := r.builder().Build(r.engine, r.proc)
		second := r.builder().Build(r.engine, r.proc)

		Expect(mgr.Start(context.Background(), first)).To(Succeed())
		Expect(mgr.IsRunning(r.proc.ID())).To(BeTrue())

		Expect(mgr.Start(context.Background(), second)).To(Succeed())

		Expect(first.Running()).To(BeFalse())
		Expect(second.Running()).To(BeTrue())

		s, ok := mgr.Server(r.proc.ID())
		Expect(ok).To(BeTrue())
		Expect(s).To(BeIdenticalTo(second))
		Expect(mgr.Servers()).To(ConsistOf(second))
	})

	It("should stop a server by processor", func() {
		s := r.builder().Build(r.engine, r.proc)
		Expect(mgr.Start(context.Background(), s)).To(Succeed())

		Expect(mgr.Stop(r.proc.ID())).To(BeTrue())
		Expect(mgr.Stop(r.proc.ID())).To(BeFalse())
		Expect(s.Running()).To(BeFalse())
		Expect(mgr.IsRunning(r.proc.ID())).To(BeFalse())
	})
})

var _ = Describe("Builder", func() {
	It("should attach hooks to every server it builds", func() {
		r := newRig()
		defer r.close()

		var count atomic.Int32
		hook := sim.HookFunc(func(hc sim.HookCtx) {
			if hc.Pos == access.HookPosRequestEnd {
				count.Add(1)
			}
		})

		b := r.builder().WithHooks(hook)
		first := b.Build(r.engine, r.proc)
		second := b.Build(r.engine, r.proc)
		Expect(first.NumHooks()).To(Equal(1))
		Expect(second.NumHooks()).To(Equal(1))

		Expect(first.Start(context.Background())).To(Succeed())
		defer first.Stop()

		_, err := dial(first).Status(ctxWithTimeout())
		Expect(err).NotTo(HaveOccurred())
		Expect(count.Load()).To(Equal(int32(1)))
	})
})
