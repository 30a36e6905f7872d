package backend

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

// BenchmarkMemoryBackend measures the raw performance of memory backend operations
func BenchmarkMemoryBackend(b *testing.B) {
	sizes := []int{
		4 * 1024,    // 4KB
		128 * 1024,  // 128KB
		1024 * 1024, // 1MB
	}
	ctx := context.Background()
	const blockLength = 4096

	for _, size := range sizes {
		b.Run(formatSize(size), func(b *testing.B) {
			backend := NewMemory(64<<20/blockLength, blockLength) // 64MB backend
			blocks := uint32(size / blockLength)
			if blocks == 0 {
				blocks = 1
			}
			data := make([]byte, int(blocks)*blockLength)
			rand.Read(data)
			maxLBA := uint64(backend.Size()/blockLength) - uint64(blocks)

			b.Run("ReadAt", func(b *testing.B) {
				buf := make([]byte, len(data))
				b.SetBytes(int64(len(data)))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					lba := uint64(rand.Int63n(int64(maxLBA) + 1))
					backend.ReadAt(ctx, lba, blocks, blockLength, buf)
				}
			})

			b.Run("WriteAt", func(b *testing.B) {
				b.SetBytes(int64(len(data)))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					lba := uint64(rand.Int63n(int64(maxLBA) + 1))
					backend.WriteAt(ctx, lba, blocks, blockLength, data, false)
				}
			})

			b.Run("ReadAt_Sequential", func(b *testing.B) {
				buf := make([]byte, len(data))
				b.SetBytes(int64(len(data)))
				b.ResetTimer()

				lba := uint64(0)
				for i := 0; i < b.N; i++ {
					backend.ReadAt(ctx, lba, blocks, blockLength, buf)
					lba += uint64(blocks)
					if lba+uint64(blocks) > maxLBA {
						lba = 0
					}
				}
			})

			b.Run("WriteAt_Sequential", func(b *testing.B) {
				b.SetBytes(int64(len(data)))
				b.ResetTimer()

				lba := uint64(0)
				for i := 0; i < b.N; i++ {
					backend.WriteAt(ctx, lba, blocks, blockLength, data, false)
					lba += uint64(blocks)
					if lba+uint64(blocks) > maxLBA {
						lba = 0
					}
				}
			})
		})
	}
}

// BenchmarkMemoryBackendConcurrent measures concurrent access performance
func BenchmarkMemoryBackendConcurrent(b *testing.B) {
	const blockLength = 4096
	backend := NewMemory(64<<20/blockLength, blockLength) // 64MB backend
	ctx := context.Background()
	maxLBA := uint64(backend.Size()/blockLength) - 1

	concurrencies := []int{1, 4, 8, 16, 32}

	for _, concurrency := range concurrencies {
		b.Run(fmt.Sprintf("Concurrency_%d", concurrency), func(b *testing.B) {
			b.SetBytes(blockLength)

			b.RunParallel(func(pb *testing.PB) {
				buf := make([]byte, blockLength)
				data := make([]byte, blockLength)
				rand.Read(data)

				for pb.Next() {
					lba := uint64(rand.Int63n(int64(maxLBA) + 1))

					// Mix of reads and writes (70% read, 30% write)
					if rand.Float32() < 0.7 {
						backend.ReadAt(ctx, lba, 1, blockLength, buf)
					} else {
						backend.WriteAt(ctx, lba, 1, blockLength, data, false)
					}
				}
			})
		})
	}
}

// BenchmarkMemoryBackendLatency measures operation latency distribution
func BenchmarkMemoryBackendLatency(b *testing.B) {
	const blockLength = 4096
	backend := NewMemory(64<<20/blockLength, blockLength) // 64MB backend
	ctx := context.Background()
	maxLBA := uint64(backend.Size()/blockLength) - 1
	buf := make([]byte, blockLength)
	data := make([]byte, blockLength)
	rand.Read(data)

	b.Run("ReadLatency", func(b *testing.B) {
		latencies := make([]time.Duration, 0, b.N)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			lba := uint64(rand.Int63n(int64(maxLBA) + 1))

			start := time.Now()
			backend.ReadAt(ctx, lba, 1, blockLength, buf)
			latencies = append(latencies, time.Since(start))
		}

		b.StopTimer()
		reportLatencyPercentiles(b, latencies)
	})

	b.Run("WriteLatency", func(b *testing.B) {
		latencies := make([]time.Duration, 0, b.N)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			lba := uint64(rand.Int63n(int64(maxLBA) + 1))

			start := time.Now()
			backend.WriteAt(ctx, lba, 1, blockLength, data, false)
			latencies = append(latencies, time.Since(start))
		}

		b.StopTimer()
		reportLatencyPercentiles(b, latencies)
	})
}

// BenchmarkMemoryOverhead measures the overhead of the locking mechanism
func BenchmarkMemoryOverhead(b *testing.B) {
	const blockLength = 4096
	ctx := context.Background()
	data := make([]byte, blockLength)

	// Baseline: raw memory copy without any locking
	b.Run("RawMemcpy", func(b *testing.B) {
		src := make([]byte, 64<<20)
		dst := make([]byte, blockLength)
		b.SetBytes(blockLength)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			offset := rand.Intn(len(src) - blockLength)
			copy(dst, src[offset:offset+blockLength])
		}
	})

	// With RWMutex (read lock)
	b.Run("WithRWMutexRead", func(b *testing.B) {
		backend := NewMemory(64<<20/blockLength, blockLength)
		maxLBA := uint64(backend.Size()/blockLength) - 1
		buf := make([]byte, blockLength)
		b.SetBytes(blockLength)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			lba := uint64(rand.Int63n(int64(maxLBA) + 1))
			backend.ReadAt(ctx, lba, 1, blockLength, buf)
		}
	})

	// With RWMutex (write lock)
	b.Run("WithRWMutexWrite", func(b *testing.B) {
		backend := NewMemory(64<<20/blockLength, blockLength)
		maxLBA := uint64(backend.Size()/blockLength) - 1
		b.SetBytes(blockLength)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			lba := uint64(rand.Int63n(int64(maxLBA) + 1))
			backend.WriteAt(ctx, lba, 1, blockLength, data, false)
		}
	})
}

func formatSize(bytes int) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%dMB", bytes/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%dKB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func reportLatencyPercentiles(b *testing.B, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}

	for i := 0; i < len(latencies); i++ {
		for j := i + 1; j < len(latencies); j++ {
			if latencies[i] > latencies[j] {
				latencies[i], latencies[j] = latencies[j], latencies[i]
			}
		}
	}

	p50 := latencies[len(latencies)*50/100]
	p90 := latencies[len(latencies)*90/100]
	p99 := latencies[len(latencies)*99/100]

	b.Logf("Latency percentiles: p50=%v, p90=%v, p99=%v", p50, p90, p99)
}
