/*
Recorder journals accepted trades in append-only segment files.

# Module
  - writer: non-blocking queue, size and time rotated segments, crc32c per record
  - reader: sequential record decoding
  - playback: ordered segment replay with optional pacing

# Source
  - trades accepted by the staging queue

# Produce
  - segments replayed by the replay source and cmd/tools/replay

# Sharded
  - none
*/
package recorder
