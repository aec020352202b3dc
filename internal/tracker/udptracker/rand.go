package udptracker

import "math/rand"

func rand32() uint32 { return rand.Uint32() } // nolint: gosec
