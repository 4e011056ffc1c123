package core

type VADResult struct {
	Confidence float32
	Ready      bool // Enough audio was buffered to score a full window.
}
