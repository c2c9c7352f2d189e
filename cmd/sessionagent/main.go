// Command sessionagent runs on the controlled endpoint: it captures the
// screen, encodes frames through the adaptive codec pipeline, ships them
// to the relay fabric over a websocket media channel, and dispatches
// inbound input-plane events to the local input injector. Generalized from
// cmd/breeze-agent's cobra command tree and run loop, replacing the RMM
// heartbeat/command loop with the capture->encode->transport pipeline and
// the input-plane dispatch loop.
package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sessioncore/internal/capture"
	"github.com/breeze-rmm/sessioncore/internal/codec"
	"github.com/breeze-rmm/sessioncore/internal/config"
	"github.com/breeze-rmm/sessioncore/internal/encoder"
	"github.com/breeze-rmm/sessioncore/internal/inject"
	"github.com/breeze-rmm/sessioncore/internal/inputproto"
	"github.com/breeze-rmm/sessioncore/internal/logging"
	"github.com/breeze-rmm/sessioncore/pkg/wire"
)

var (
	version    = "0.1.0"
	cfgFile    string
	relayURL   string
	agentID    string
	targetFPS  int
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "sessionagent",
	Short: "Session Core agent",
	Long:  `sessionagent - captures the screen, encodes frames, and injects remote input on the controlled endpoint`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the session agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sessionagent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/agent.yaml)")
	runCmd.Flags().StringVar(&relayURL, "relay", "", "relay fabric websocket URL, e.g. ws://relay:8443/ws/agent/")
	runCmd.Flags().StringVar(&agentID, "agent-id", "", "this agent's participant id")
	runCmd.Flags().IntVar(&targetFPS, "fps", 30, "target capture/encode frame rate")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	if relayURL == "" || agentID == "" {
		fmt.Fprintln(os.Stderr, "both --relay and --agent-id are required")
		os.Exit(1)
	}

	src, backend, err := capture.Open(capture.DefaultConfig(), nil)
	if err != nil {
		log.Error("no capture backend available", "error", err)
		os.Exit(1)
	}
	defer src.Close()
	log.Info("capture backend selected", "backend", backend)

	width, height, err := src.Bounds()
	if err != nil {
		log.Error("capture bounds failed", "error", err)
		os.Exit(1)
	}

	injector, injBackend, err := inject.Open(inject.Config{ScreenWidth: width, ScreenHeight: height}, nil)
	if err != nil {
		log.Warn("no input injector available, remote input disabled", "error", err)
	} else {
		log.Info("input injector selected", "backend", injBackend)
		defer injector.Close()
	}

	sel := encoder.NewSelector(encoder.Capabilities{HasGPU: encoder.DetectGPU()})
	encCfg := encoder.DefaultConfig()
	encCfg.Width, encCfg.Height, encCfg.FPS = width, height, targetFPS
	enc, err := sel.SelectForStreaming(encCfg.Bitrate, targetFPS, encCfg, func(from, to codec.Codec) {
		log.Warn("encoder demoted", "from", from, "to", to)
	})
	if err != nil {
		log.Error("no encoder backend available", "error", err)
		os.Exit(1)
	}
	defer enc.Close()

	conn, _, err := websocket.DefaultDialer.Dial(relayURL+agentID, nil)
	if err != nil {
		log.Error("failed to connect to relay fabric", "error", err, "url", relayURL)
		os.Exit(1)
	}
	defer conn.Close()

	registerMsg, err := wire.Marshal(wire.KindAgentRegister, wire.AgentRegisterPayload{
		AgentID:   agentID,
		Region:    cfg.Region,
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		NATKind:   "unknown",
	})
	if err != nil {
		log.Error("failed to build AgentRegister", "error", err)
		os.Exit(1)
	}
	if err := conn.WriteMessage(websocket.TextMessage, registerMsg); err != nil {
		log.Error("failed to send AgentRegister", "error", err)
		os.Exit(1)
	}

	var sessionID [8]byte
	copy(sessionID[:], agentID)

	done := make(chan struct{})
	go inputReadLoop(conn, injector, enc, done)

	pacer := capture.NewPacer(src, targetFPS)
	var seq uint32
	go pacer.Run(func(frame *image.RGBA) bool {
		payload, keyframe, err := enc.Encode(frame.Pix)
		if err != nil {
			log.Error("encode failed", "error", err)
			return true
		}
		h := codec.NewHeader(seq, sessionID, enc.Info().Codec, encCfg.Quality, uint32(width), uint32(height), uint64(time.Now().UnixMicro()), keyframe)
		seq++
		framed, err := codec.Encode(h, payload)
		if err != nil {
			log.Error("frame encode failed", "error", err)
			return true
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, framed); err != nil {
			log.Error("media send failed", "error", err)
			return false
		}
		return true
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
	}
	log.Info("shutting down sessionagent")
	pacer.Stop()
}

// inputReadLoop reads JSON-encoded inputproto.Event messages off the
// control channel and dispatches each to the local injector. Validation
// happens twice by design: once here via Event.Validate (so a malformed
// event never reaches the injector at all) and again inside each injector
// backend's own bound checks, matching the independent-enforcement
// decision recorded for internal/inject.
func inputReadLoop(conn *websocket.Conn, injector inject.Injector, enc *encoder.VideoEncoder, done chan struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("relay connection closed", "error", err)
			return
		}
		if mt != websocket.TextMessage {
			continue // agent connections never receive binary inbound
		}

		if kind, ok := wire.Peek(data); ok {
			handleControlEnvelope(conn, kind, data, enc)
			continue
		}

		var evt inputproto.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Warn("malformed input event", "error", err)
			continue
		}
		if err := evt.Validate(); err != nil {
			log.Warn("input event failed validation", "error", err)
			continue
		}
		if injector == nil {
			continue
		}
		if err := dispatchEvent(injector, evt); err != nil {
			log.Warn("input dispatch failed", "type", evt.Type, "error", err)
		}
	}
}

// handleControlEnvelope handles the small set of control-plane messages an
// agent connection may receive: SessionAccept/Reject/End/Pause/Resume
// notifications, a RequestKeyframe push, and keepalive Pings, which it
// answers directly on the same connection.
func handleControlEnvelope(conn *websocket.Conn, kind wire.Kind, data []byte, enc *encoder.VideoEncoder) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch kind {
	case wire.KindSessionAccept:
		var p wire.SessionAcceptPayload
		env.Decode(&p)
		log.Info("session accepted", "session", p.SessionID, "route", p.ConnectionType)
	case wire.KindSessionReject:
		var p wire.SessionRejectPayload
		env.Decode(&p)
		log.Warn("session rejected", "code", p.Code, "reason", p.Reason)
	case wire.KindSessionEnd:
		var p wire.SessionEndPayload
		env.Decode(&p)
		log.Info("session ended", "session", p.SessionID, "reason", p.Reason)
	case wire.KindSessionPause:
		var p wire.SessionPausePayload
		env.Decode(&p)
		log.Info("session paused", "session", p.SessionID)
	case wire.KindSessionResume:
		var p wire.SessionResumePayload
		env.Decode(&p)
		log.Info("session resumed", "session", p.SessionID)
	case wire.KindRequestKeyframe:
		var p wire.RequestKeyframePayload
		env.Decode(&p)
		if enc != nil {
			if err := enc.RequestKeyframe(); err != nil {
				log.Warn("keyframe request failed", "session", p.SessionID, "error", err)
			}
		}
	case wire.KindPing:
		var p wire.PingPayload
		env.Decode(&p)
		reply, err := wire.Marshal(wire.KindPong, wire.PongPayload{TimestampUs: p.TimestampUs})
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	case wire.KindAuthResult:
		var p wire.AuthResultPayload
		env.Decode(&p)
		if !p.Success {
			log.Warn("authentication rejected", "reason", p.Reason)
		}
	default:
		log.Debug("unhandled control envelope", "kind", kind)
	}
}

func dispatchEvent(inj inject.Injector, evt inputproto.Event) error {
	switch evt.Type {
	case inputproto.TypeMouseMove:
		return inj.MoveAbsolute(evt.X, evt.Y)
	case inputproto.TypeMouseMoveRelative:
		return inj.MoveRelative(evt.DX, evt.DY)
	case inputproto.TypeMousePress:
		return inj.Button(inject.Press, evt.Button, evt.X, evt.Y)
	case inputproto.TypeMouseRelease:
		return inj.Button(inject.Release, evt.Button, evt.X, evt.Y)
	case inputproto.TypeMouseClick:
		kind := inject.Click
		if evt.Double {
			kind = inject.Double
		}
		return inj.Button(kind, evt.Button, evt.X, evt.Y)
	case inputproto.TypeMouseScroll:
		return inj.Scroll(evt.Direction, evt.Clicks)
	case inputproto.TypeKeyPress:
		return inj.Key(inject.KeyPress, evt.Key, evt.Modifiers)
	case inputproto.TypeKeyRelease:
		return inj.Key(inject.KeyRelease, evt.Key, evt.Modifiers)
	case inputproto.TypeKeyStroke:
		return inj.Key(inject.KeyStroke, evt.Key, evt.Modifiers)
	case inputproto.TypeTypeText:
		return inj.TypeText(evt.Text)
	case inputproto.TypeKeyCombination:
		return inj.Combination(evt.Keys)
	case inputproto.TypeClipboardSet:
		return inj.ClipboardSet(evt.Text)
	case inputproto.TypeClipboardGet:
		_, err := inj.ClipboardGet()
		return err
	default:
		return fmt.Errorf("unknown input event type %q", evt.Type)
	}
}
