package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mdi/internal/candle"
	"mdi/internal/ingest/binance"
	"mdi/internal/recorder"

	"github.com/yanun0323/logs"
)

func main() {
	dir := flag.String("dir", "data/journal", "journal directory")
	prefix := flag.String("prefix", "", "segment file prefix (default: trades)")
	speed := flag.Float64("speed", 0, "playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "disable checksum validation")
	verbose := flag.Bool("v", false, "print every record")
	interval := flag.Uint64("interval", 60, "candle interval in seconds for the summary")
	flag.Parse()

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		logs.Errorf("playback init failed, err: %+v", err)
		os.Exit(1)
	}
	agg, err := candle.NewAggregator(*interval)
	if err != nil {
		logs.Errorf("aggregator init failed, err: %+v", err)
		os.Exit(1)
	}

	dec := binance.NewDecoder()
	var records, failed int
	err = pb.Run(context.Background(), func(h recorder.Header, payload []byte) error {
		records++
		t, err := dec.Decode(payload)
		if err != nil {
			failed++
			fmt.Printf("%06d seq=%d decode failed: %v\n", records, h.Seq, err)
			return nil
		}
		if *verbose {
			fmt.Printf("%06d seq=%d recv=%d %s #%d price=%g qty=%g ts=%d maker=%t\n",
				records, h.Seq, h.TsRecv, t.Symbol, t.TradeID, t.Price, t.Quantity, t.Timestamp, t.IsBuyerMaker)
		}
		agg.ProcessEvent(t)
		return nil
	})
	if err != nil {
		logs.Errorf("playback run failed after %d records, err: %+v", records, err)
		os.Exit(1)
	}

	fmt.Printf("%d records, %d undecodable\n", records, failed)
	for _, symbol := range agg.Symbols() {
		summary, _ := agg.Summary(symbol)
		candles := agg.All(symbol, *interval)
		fmt.Printf("%s trades=%d volume=%g last=%g candles=%d\n", symbol, summary.TradeCount, summary.Volume, summary.LastPrice, len(candles))
		for _, c := range candles {
			fmt.Printf("  %d o=%g h=%g l=%g c=%g v=%g n=%d vwap=%g\n",
				c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.NumberOfTrades, c.VWAP())
		}
	}
}
