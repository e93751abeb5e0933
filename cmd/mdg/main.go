package main

import (
	"context"
	stderrors "errors"
	"flag"
	"os"
	"strings"
	"time"

	"mdi/internal/mdg"
	"mdi/internal/recorder"
	"mdi/pkg/exception"

	"github.com/yanun0323/logs"
)

func main() {
	dir := flag.String("dir", "data/journal", "journal directory to write")
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma separated symbols")
	trades := flag.Int("trades", 10_000, "number of trades to generate")
	step := flag.Duration("step", 100*time.Millisecond, "exchange time between consecutive trades")
	price := flag.Float64("price", 100, "starting price")
	seed := flag.Int64("seed", 1, "generator seed")
	flag.Parse()

	if *trades <= 0 {
		logs.Errorf("trades must be > 0")
		os.Exit(1)
	}

	gen, err := mdg.NewGenerator(strings.Split(*symbols, ","), *price, *seed)
	if err != nil {
		logs.Errorf("generator init failed, err: %+v", err)
		os.Exit(1)
	}
	writer, err := recorder.NewWriter(recorder.DefaultConfig(*dir))
	if err != nil {
		logs.Errorf("journal init failed, err: %+v", err)
		os.Exit(1)
	}
	if err := writer.Start(context.Background()); err != nil {
		logs.Errorf("journal start failed, err: %+v", err)
		os.Exit(1)
	}

	at := time.Now().Add(-time.Duration(*trades) * *step)
	for i := 0; i < *trades; i++ {
		t := gen.Next(at)
		for {
			err := writer.TryAppend(t)
			if err == nil {
				break
			}
			if !stderrors.Is(err, exception.ErrJournalFull) {
				logs.Errorf("append trade %d, err: %+v", i, err)
				os.Exit(1)
			}
			time.Sleep(time.Millisecond)
		}
		at = at.Add(*step)
	}

	if err := writer.Close(); err != nil {
		logs.Errorf("journal close failed, err: %+v", err)
		os.Exit(1)
	}
	logs.Infof("generated %d trades into %s", writer.Written(), *dir)
}
