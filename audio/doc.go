// Package audio provides the audio processing layer of the call runtime:
// conversion between the telephony wire format (G.711 µ-law at 8 kHz) and
// linear PCM16, sample-rate conversion, WAV container wrapping, and
// utterance endpointing over a live frame stream.
//
// The Endpointer consumes fixed-duration PCM frames, classifies each frame
// as voiced or unvoiced through a pluggable Detector, and emits discrete
// utterances bounded by trailing silence. An energy-threshold Detector is
// built in; deployments with a dedicated voice-activity classifier can
// plug it in without changing the endpointing logic.
package audio
