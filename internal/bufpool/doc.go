// ABOUTME: Buffer manager: pooled, sequenced audio buffers with glitch-free resize
// ABOUTME: Lock-free acquisition; a single writer barrier covers pool swaps
package bufpool
