package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/catalog"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/kafka"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/signature"
)

// metersPerDegree is the length of one degree of latitude
const metersPerDegree = 111_320.0

type wallet struct {
	key     ed25519.PrivateKey
	address string
}

// simWallet derives a stable key per index so reruns hit the same wallets
func simWallet(idx int) wallet {
	seed := sha256.Sum256([]byte(fmt.Sprintf("claim-sim/%d", idx)))
	key := ed25519.NewKeyFromSeed(seed[:])
	return wallet{key: key, address: signature.Identity(key.Public().(ed25519.PublicKey))}
}

// jitter moves a point up to maxMeters in a random direction
func jitter(rng *rand.Rand, lat, lng, maxMeters float64) (float64, float64) {
	d := rng.Float64() * maxMeters
	theta := rng.Float64() * 2 * math.Pi
	dLat := d * math.Cos(theta) / metersPerDegree
	dLng := d * math.Sin(theta) / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lng + dLng
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "claims", "Kafka topic")
	dataDir := flag.String("data", "data", "Directory holding locations.json and quests.json")
	totalWallets := flag.Int("wallets", 100, "Number of simulated wallets")
	claimsPerSecond := flag.Int("rate", 10, "Claims per second")
	radius := flag.Float64("radius", 40, "Max distance in meters from the location for honest claims")
	spoofRate := flag.Float64("spoof", 0.1, "Fraction of claims sent from far away")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	cat, err := catalog.Load(*dataDir)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	locations := cat.Locations()

	wallets := make([]wallet, *totalWallets)
	for i := range wallets {
		wallets[i] = simWallet(i)
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Claim Simulator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Wallets:          %d\n", *totalWallets)
	fmt.Printf("  Locations:        %d\n", len(locations))
	fmt.Printf("  Claims/sec:       %d\n", *claimsPerSecond)
	fmt.Printf("  Spoofed:          %.0f%%\n", *spoofRate*100)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	sp, err := kafka.NewSyncProducer(strings.Split(*brokers, ","))
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	producer := kafka.NewProducer(sp, *topic)
	defer producer.Close()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var sentCount, errorCount int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, 16)

	send := func(req domain.ClaimRequest) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := producer.PublishClaim(req); err != nil {
				atomic.AddInt64(&errorCount, 1)
				log.Printf("Producer error: %v", err)
				return
			}
			atomic.AddInt64(&sentCount, 1)
		}()
	}

	finish := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&sentCount), atomic.LoadInt64(&errorCount))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	interval := time.Second / time.Duration(*claimsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	for {
		select {
		case <-sigChan:
			finish("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				finish("Duration reached, shutting down...")
				return
			}

			w := wallets[rng.Intn(len(wallets))]
			loc := locations[rng.Intn(len(locations))]

			maxOffset := *radius
			if rng.Float64() < *spoofRate {
				maxOffset = 5_000
			}
			lat, lng := jitter(rng, loc.Lat, loc.Lng, maxOffset)

			msg := signature.ClaimMessage(loc.ID, time.Now())
			send(domain.ClaimRequest{
				Wallet:     w.address,
				LocationID: loc.ID,
				Lat:        &lat,
				Lng:        &lng,
				Signature:  signature.Sign(w.key, msg),
				Message:    msg,
				Streak:     rng.Intn(5),
			})

		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
