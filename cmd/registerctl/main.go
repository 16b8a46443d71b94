package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/librescoot/inverter-link/pkg/config"
	"github.com/librescoot/inverter-link/pkg/connection"
	"github.com/librescoot/inverter-link/pkg/pipeline"
	"github.com/librescoot/inverter-link/pkg/pool"
	"github.com/librescoot/inverter-link/pkg/register"
	"github.com/librescoot/inverter-link/pkg/telemetry"
)

var (
	host      = flag.String("host", "127.0.0.1", "Device TCP host")
	port      = flag.Int("port", 8899, "Device TCP port")
	regName   = flag.String("register", "", "Register id to operate on, hex (e.g. 0x400F015B) or a known name")
	writeVal  = flag.String("write", "", "If set, write this value instead of reading")
	redisAddr = flag.String("redis-addr", "", "Optional Redis address for telemetry publishing (disabled if empty)")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("registerctl: error loading .env: %v", err)
	}

	flag.Parse()

	cfg := config.Load()
	cat := register.ExampleCatalog()

	reg, ok := resolveRegister(cat, *regName)
	if !ok {
		log.Fatalf("registerctl: unknown register %q", *regName)
	}

	var sink telemetry.Sink = telemetry.Noop()
	if *redisAddr != "" {
		redisSink, err := telemetry.NewRedisSink(*redisAddr, *redisPass, *redisDB, "inverter-link", "inverter-link:registers")
		if err != nil {
			log.Fatalf("registerctl: %v", err)
		}
		defer redisSink.Close()
		sink = redisSink
		log.Printf("registerctl: publishing telemetry to redis at %s", *redisAddr)
	}

	opts := connection.Options{
		DialTimeout:      cfg.DialTimeout,
		ReceiveTimeout:   cfg.ReceiveTimeout,
		IdleTimeout:      cfg.IdleCloseTimeout,
		CacheTTL:         cfg.CacheTTL,
		CacheMaxSize:     cfg.CacheMaxSize,
		StatusRegisterID: register.IDBatteryStatus,
		Retry: pipeline.RetryPolicy{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			Multiplier:     cfg.BackoffMultiplier,
		},
		Telemetry: sink,
	}

	p := pool.New(cat, opts)
	defer p.Shutdown()

	conn, err := p.Get(*host, *port, int(cfg.CacheTTL/time.Millisecond), cfg.CacheMaxSize)
	if err != nil {
		log.Fatalf("registerctl: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("registerctl: shutting down...")
		p.Shutdown()
		os.Exit(0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *writeVal != "" {
		value, err := parseValueForWireType(reg.WireType, *writeVal)
		if err != nil {
			log.Fatalf("registerctl: %v", err)
		}
		if err := conn.Write(ctx, reg, value); err != nil {
			log.Fatalf("registerctl: write %#08x failed: %v", reg.ID, err)
		}
		log.Printf("registerctl: wrote %#08x (%s) = %v", reg.ID, reg.Label, value)
		return
	}

	value, err := conn.Query(ctx, reg)
	if err != nil {
		log.Fatalf("registerctl: query %#08x failed: %v", reg.ID, err)
	}
	log.Printf("registerctl: %#08x (%s) = %v", reg.ID, reg.Label, value)
}

func resolveRegister(cat register.Catalog, name string) (register.Descriptor, bool) {
	if name == "" {
		return register.Descriptor{}, false
	}
	if id, err := strconv.ParseUint(name, 0, 32); err == nil {
		return cat.Lookup(uint32(id))
	}
	switch name {
	case "solar-power":
		return cat.Lookup(register.IDSolarPowerW)
	case "grid-power":
		return cat.Lookup(register.IDGridPowerW)
	case "battery-soc":
		return cat.Lookup(register.IDBatterySOC)
	case "battery-status":
		return cat.Lookup(register.IDBatteryStatus)
	case "operating-mode":
		return cat.Lookup(register.IDOperatingMode)
	case "serial-number":
		return cat.Lookup(register.IDSerialNumber)
	default:
		return register.Descriptor{}, false
	}
}

func parseValueForWireType(wt register.WireType, raw string) (any, error) {
	switch wt {
	case register.Float32BE:
		f, err := strconv.ParseFloat(raw, 32)
		return float32(f), err
	case register.Uint8, register.EnumU8:
		u, err := strconv.ParseUint(raw, 0, 8)
		return uint8(u), err
	case register.Uint16BE:
		u, err := strconv.ParseUint(raw, 0, 16)
		return uint16(u), err
	case register.Uint32BE:
		u, err := strconv.ParseUint(raw, 0, 32)
		return uint32(u), err
	case register.StringASCII:
		return raw, nil
	default:
		return nil, &register.ErrUnsupportedWireType{WireType: wt}
	}
}
