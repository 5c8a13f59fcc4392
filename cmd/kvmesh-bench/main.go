// Command kvmesh-bench runs a synthetic read/write workload against a live
// kvmesh cluster through its HTTP gateway, reporting throughput and hit
// rate. The flag set and the Zipf-skewed key generator are carried over
// from IvanBrykalov/shardcache's cmd/bench, retargeted from an in-process
// cache.Cache to HTTP calls against a remote gateway.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		gatewayAddr = flag.String("gateway", "http://127.0.0.1:8080", "kvmesh gateway base URL")
		group       = flag.String("group", "default", "cache group name")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 10_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		timeout = flag.Duration("timeout", 2*time.Second, "per-request HTTP timeout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var reads, writes, hits, misses, errs, total uint64
	stop := time.After(*duration)
	done := make(chan struct{})

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)
			keyByZipf := func() string {
				return "k" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-done:
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				key := keyByZipf()
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					hit, err := doGet(client, *gatewayAddr, *group, key)
					if err != nil {
						atomic.AddUint64(&errs, 1)
					} else if hit {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					value := "v" + strconv.Itoa(localR.Int())
					if err := doSet(client, *gatewayAddr, *group, key, value); err != nil {
						atomic.AddUint64(&errs, 1)
					}
				}
			}
		}(w)
	}

	<-stop
	close(done)
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	errsN := atomic.LoadUint64(&errs)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("gateway=%s group=%s workers=%d keys=%d dur=%v seed=%d\n",
		*gatewayAddr, *group, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  errors=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, errsN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
}

func doGet(client *http.Client, base, group, key string) (hit bool, err error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/cache/%s/%s", base, group, key))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("get %s: status %d", key, resp.StatusCode)
	}
}

func doSet(client *http.Client, base, group, key, value string) error {
	url := fmt.Sprintf("%s/api/cache/%s/%s", base, group, key)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(value)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set %s: status %d", key, resp.StatusCode)
	}
	return nil
}
