package model

// RawRecord is one upstream JSON object, kept only for the length of a sync cycle.
type RawRecord []byte
