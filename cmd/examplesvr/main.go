// Command examplesvr hosts a dispatch.Server over TCP, binding a handful of
// example functions that exercise every shape spec.md §8 names: a plain
// two-arg call, a cached call, and an out-parameter call.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"

	"callrpc/dispatch"
	"callrpc/middleware"
	"callrpc/protocol"
	"callrpc/registry"
	"callrpc/serial/jsonadapter"
	"callrpc/server"
)

// StrangeParams is a user type with a non-obvious wire shape (a single
// "WxH" string rather than the two separate fields it holds), exercising
// the serial.Marshaler/Unmarshaler hook pair rather than a plain struct tag.
type StrangeParams struct {
	Width, Height int
}

func (p StrangeParams) MarshalRPCValue() (any, error) {
	return fmt.Sprintf("%dx%d", p.Width, p.Height), nil
}

func (p *StrangeParams) UnmarshalRPCValue(raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	_, err := fmt.Sscanf(s, "%dx%d", &p.Width, &p.Height)
	return err
}

func main() {
	var (
		addr          = flag.String("addr", ":9000", "address to listen on")
		advertiseAddr = flag.String("advertise", "", "address to advertise in the registry (defaults to -addr)")
		etcdEndpoints = flag.String("etcd", "", "comma-separated etcd endpoints; empty disables registry")
		rateLimit     = flag.Float64("rate", 0, "requests/sec allowed by the rate limiter; 0 disables it")
		rateBurst     = flag.Int("burst", 1, "burst size for the rate limiter")
	)
	flag.Parse()

	adapter := jsonadapter.New()
	dispatcher := dispatch.NewServer(adapter)
	bindExampleFuncs(dispatcher)
	dispatcher.Freeze()

	svr := server.NewServer("Example", dispatcher, protocol.AdapterTypeJSON)
	svr.Use(middleware.LoggingMiddleware(adapter))
	if *rateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(adapter, *rateLimit, *rateBurst))
	}

	var reg registry.Registry
	if *etcdEndpoints != "" {
		var err error
		reg, err = registry.NewEtcdRegistry(splitEndpoints(*etcdEndpoints))
		if err != nil {
			log.Fatalf("connect etcd: %v", err)
		}
	}

	advertise := *advertiseAddr
	if advertise == "" {
		advertise = *addr
	}

	log.Printf("listening on %s", *addr)
	if err := svr.Serve("tcp", *addr, advertise, reg); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func bindExampleFuncs(s *dispatch.Server) {
	s.Bind("SimpleSum", func(a, b int) int { return a + b })

	s.Bind("AddOneToEachValue", func(arr []int) []int {
		out := make([]int, len(arr))
		for i, v := range arr {
			out[i] = v + 1
		}
		return out
	})

	s.Bind("AddOneToEachRef", func(arr *[]int) {
		for i := range *arr {
			(*arr)[i]++
		}
	})

	s.BindCached("Fibonacci", func(n int) int {
		if n < 2 {
			return n
		}
		a, b := 0, 1
		for i := 1; i < n; i++ {
			a, b = b, a+b
		}
		return b
	})

	s.Bind("SquareRoot", func(n float64) float64 { return math.Sqrt(n) })

	s.Bind("Area", func(p StrangeParams) int { return p.Width * p.Height })
}

func splitEndpoints(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

