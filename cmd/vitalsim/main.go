// vitalsim feeds a session with synthetic vitals, standing in for the
// ambulance's onboard monitor during development.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

type vitals struct {
	heartRate       float64
	bodyTemperature float64
	bloodOxygen     float64
}

// step random-walks each vital within its plausible band.
func (v *vitals) step(rng *rand.Rand) {
	v.heartRate = clamp(v.heartRate+rng.Float64()*6-3, 45, 180)
	v.bodyTemperature = clamp(v.bodyTemperature+rng.Float64()*0.2-0.1, 35.0, 41.0)
	v.bloodOxygen = clamp(v.bloodOxygen+rng.Float64()*2-1, 80, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
		sessionID = flag.String("session", "", "session to feed (required)")
		interval  = flag.Duration("interval", 5*time.Second, "time between readings")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	if *sessionID == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*serverURL, *sessionID, *interval, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(serverURL, sessionID string, interval time.Duration, seed int64) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", serverURL, err)
	}
	defer conn.Close()

	join := types.Event{
		Event: types.EventJoinSession,
		Data:  types.JoinPayload{SessionID: sessionID, Role: types.RoleIoT},
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	log.Printf("joined session %s as %s", sessionID, types.RoleIoT)

	// Drain server frames so pings get answered and the write path
	// never backs up.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	rng := rand.New(rand.NewSource(seed))
	current := vitals{
		heartRate:       70 + rng.Float64()*20,
		bodyTemperature: 36.5 + rng.Float64()*0.6,
		bloodOxygen:     96 + rng.Float64()*3,
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current.step(rng)
			reading := types.Event{
				Event: types.EventHealthUpdate,
				Data: types.HealthPayload{
					SessionID: sessionID,
					Point: types.HealthPoint{
						HeartRate:       round1(current.heartRate),
						BodyTemperature: round1(current.bodyTemperature),
						BloodOxygen:     round1(current.bloodOxygen),
					},
				},
			}
			if err := conn.WriteJSON(reading); err != nil {
				return fmt.Errorf("failed to send reading: %w", err)
			}
			if data, err := json.Marshal(reading.Data); err == nil {
				log.Printf("sent %s", data)
			}

		case sig := <-signalCh:
			log.Printf("received %v, closing", sig)
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		}
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
