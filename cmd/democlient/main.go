// Command democlient is a CLI microphone client that exercises the
// gateway end to end over its streaming websocket endpoint, adapted from
// the teacher's cmd/agent/main.go: the malgo capture/playback device loop
// and signal-driven shutdown are kept verbatim in spirit, but the local
// STT/LLM/TTS provider selection and orchestrator.ManagedStream are
// dropped since utterance segmentation, transcription, and synthesis now
// happen server-side — this client only streams PCM up and plays PCM
// back.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
)

const (
	sampleRate = 44100
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	gatewayURL := os.Getenv("GATEWAY_WS_URL")
	if gatewayURL == "" {
		gatewayURL = "ws://localhost:8080/ws"
	}
	sessionID := os.Getenv("DEMO_SESSION_ID")
	if sessionID == "" {
		sessionID = fmt.Sprintf("demo-%d", os.Getpid())
	}

	u, err := url.Parse(gatewayURL)
	if err != nil {
		log.Fatalf("invalid GATEWAY_WS_URL: %v", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	fmt.Printf("Connected to %s as session %s\n", u.String(), sessionID)
	fmt.Println("Voice demo client started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackBytes []byte

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			frame := make([]byte, len(pInput))
			copy(frame, pInput)
			if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				return
			}
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	// Drain incoming server messages: binary frames are synthesized
	// speech queued for playback, text frames are status lines and the
	// heartbeat ping/pong (answered here so the server's heartbeat loop
	// never times the session out).
	go func() {
		for {
			msgType, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch msgType {
			case websocket.MessageBinary:
				playbackMu.Lock()
				playbackBytes = append(playbackBytes, payload...)
				playbackMu.Unlock()
			case websocket.MessageText:
				msg := string(payload)
				if msg == "ping" {
					_ = conn.Write(ctx, websocket.MessageText, []byte("pong"))
					continue
				}
				fmt.Printf("\n[SERVER] %s\n", msg)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	_ = device.Stop()
	cancel()
	time.Sleep(100 * time.Millisecond)
}
