// Package audio handles frame accumulation, PCM codecs, and WAV export.
// It collects small capture frames into fixed-size chunks for transmission,
// converts between float32 samples and their wire encodings, and writes
// 16-bit PCM WAV files for local retention.
package audio
