/*
	Basic Script that generates random data to help create lots of segments for testing.
*/

package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/0xRadioAc7iv/keycask/bitcask"
	"github.com/0xRadioAc7iv/keycask/internal"
)

const (
	concurrency = 4 // stays under the server's default connection limit

	// Fixed universe
	totalKeys   = 100
	totalValues = 100

	// Per-cycle behavior
	keysPerCycleWrite = 20
	keysPerCycleRead  = 10
	cyclesPerWorker   = 5000

	sleepBetweenCycles = 10 * time.Millisecond

	progressEvery = 500
)

func main() {
	host := flag.String("host", internal.DEFAULT_HOST, "Bitcask server host")
	port := flag.Int("port", internal.DEFAULT_PORT, "Bitcask server port")
	flag.Parse()

	start := time.Now()
	fmt.Println("Starting Bitcask overwrite-heavy load generator")

	keys := makeKeys(totalKeys)
	values := makeValues(totalValues)

	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(id, *host, *port, keys, values)
		}(i)
	}

	wg.Wait()
	fmt.Printf("Load finished in %v\n", time.Since(start))
}

func runWorker(id int, host string, port int, keys []string, values []string) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	client, err := bitcask.Connect(bitcask.WithHost(host), bitcask.WithPort(port))
	if err != nil {
		fmt.Printf("[worker %d] connect error: %v\n", id, err)
		return
	}
	defer client.Close()

	var misses, crcFailures int

	for cycle := 1; cycle <= cyclesPerWorker; cycle++ {

		// ---- WRITE / OVERWRITE PHASE ----
		for i := 0; i < keysPerCycleWrite; i++ {
			key := keys[rng.Intn(len(keys))]
			val := values[rng.Intn(len(values))]

			if err := client.Set(key, val); err != nil {
				fmt.Printf("[worker %d] SET error: %v\n", id, err)
				return
			}
		}

		// ---- READ PHASE ----
		for i := 0; i < keysPerCycleRead; i++ {
			key := keys[rng.Intn(len(keys))]

			_, err := client.Get(key)
			switch {
			case err == nil:
			case errors.Is(err, bitcask.ErrNotFound):
				misses++
			case errors.Is(err, bitcask.ErrChecksum):
				crcFailures++
			default:
				fmt.Printf("[worker %d] GET error: %v\n", id, err)
				return
			}
		}

		if cycle%progressEvery == 0 {
			fmt.Printf("[worker %d] completed %d cycles (misses=%d crc_failures=%d)\n", id, cycle, misses, crcFailures)
		}

		if sleepBetweenCycles > 0 {
			time.Sleep(sleepBetweenCycles)
		}
	}
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("key-%03d", i)
	}
	return keys
}

func makeValues(n int) []string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("value-%03d-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", i)
	}
	return values
}
