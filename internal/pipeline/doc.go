/*
Pipeline drives candles from the staging queue to subscribers and storage.

# Module
  - worker: pops trade batches, folds them into the aggregator, publishes every candle update
  - store batcher: buffers trades and touched candles, flushes on size or interval

# Source
  - trades from the staging queue, fed by the binance stream, the simulator or a journal replay

# Produce
  - candle updates to the fanout registry
  - trade and candle records to the store

# Sharded
  - none, one worker per queue
*/
package pipeline
