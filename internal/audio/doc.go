// Package audio decodes, re-encodes, trims and shrinks audio before upload,
// and plays synthesized speech back through oto/v3.
//
// Sample data is held planar in a SampleBuffer with float32 samples in
// [-1, 1]. The canonical container is 16-bit PCM WAV.
package audio
