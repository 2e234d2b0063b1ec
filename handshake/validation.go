package handshake

import (
	"context"
	"iter"

	"github.com/tcpms/tcpms"
)

// RoundResult reports the outcome of one probe-and-echo validation round.
type RoundResult struct {
	Index   int
	ProbeN  int
	Success bool
}

// RunValidationRounds drives the server side of the Validation state:
// tries rounds of probe-and-echo, each generating 1..5 random bytes,
// encrypting them when aes is non-nil, and checking the peer's echo
// shares at least one byte with the probe. It yields one
// RoundResult per completed round, following the "send, await, yield,
// repeat until done or cancelled" shape of a streaming call.
// The iterator stops, with a final (_, err) or (result, nil) pair, as
// soon as a round fails or an I/O error occurs; it never yields past the
// first failure.
func RunValidationRounds(ctx context.Context, h *tcpms.Handler, tries int, aes *tcpms.AesContext) iter.Seq2[RoundResult, error] {
	return func(yield func(RoundResult, error) bool) {
		for i := 0; i < tries; i++ {
			n, err := tcpms.RandIntN(5)
			if err != nil {
				yield(RoundResult{}, err)
				return
			}
			probeLen := 1 + n
			probe, err := tcpms.SecureRandomBytes(probeLen)
			if err != nil {
				yield(RoundResult{}, err)
				return
			}

			outPayload := probe
			if aes != nil {
				outPayload, err = aes.Encrypt(probe)
				if err != nil {
					yield(RoundResult{}, err)
					return
				}
			}
			if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageTest, tcpms.DataBlob, outPayload)); err != nil {
				yield(RoundResult{}, err)
				return
			}

			echoPkg, err := h.ObtainExpected(ctx, tcpms.PackageTest)
			if err != nil {
				yield(RoundResult{}, err)
				return
			}

			echo := echoPkg.Payload
			decryptFailed := false
			if aes != nil {
				echo, err = aes.Decrypt(echoPkg.Payload)
				if err != nil {
					decryptFailed = true
				}
			}

			ok := !decryptFailed && len(echo) == len(probe) && shareAnyByte(probe, echo)
			if !ok {
				_ = h.Dispatch(tcpms.NewPackage(tcpms.PackageTestTryFailure, tcpms.DataEmpty, nil))
				yield(RoundResult{Index: i, ProbeN: probeLen, Success: false}, nil)
				return
			}
			if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageTestTrySuccess, tcpms.DataEmpty, nil)); err != nil {
				yield(RoundResult{}, err)
				return
			}
			if !yield(RoundResult{Index: i, ProbeN: probeLen, Success: true}, nil) {
				return
			}
		}
	}
}

func shareAnyByte(a, b []byte) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// runValidationServer sends TestRequest and consumes RunValidationRounds,
// returning ErrValidationFailed on the first failed round.
func runValidationServer(ctx context.Context, h *tcpms.Handler, tries int, aes *tcpms.AesContext) error {
	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageTestRequest, tcpms.DataEmpty, nil)); err != nil {
		return err
	}
	for result, err := range RunValidationRounds(ctx, h, tries, aes) {
		if err != nil {
			return err
		}
		if !result.Success {
			return ErrValidationFailed
		}
	}
	return nil
}

// runValidationClient plays the peer side of each probe-and-echo round:
// decrypt the probe (if encrypted), build an echo guaranteed to share one
// byte with it, and send it back.
func runValidationClient(ctx context.Context, h *tcpms.Handler, tries int, aes *tcpms.AesContext) error {
	if _, err := h.ObtainExpected(ctx, tcpms.PackageTestRequest); err != nil {
		return err
	}
	for i := 0; i < tries; i++ {
		probePkg, err := h.ObtainExpected(ctx, tcpms.PackageTest)
		if err != nil {
			return err
		}

		probe := probePkg.Payload
		if aes != nil {
			probe, err = aes.Decrypt(probePkg.Payload)
			if err != nil {
				// Can't produce a valid echo; send garbage of a
				// plausible length and let the server fail the round.
				probe = make([]byte, 1)
			}
		}

		echo, err := tcpms.SecureRandomBytes(len(probe))
		if err != nil {
			return err
		}
		if len(probe) > 0 {
			echoIdx, err := tcpms.RandIntN(len(echo))
			if err != nil {
				return err
			}
			probeIdx, err := tcpms.RandIntN(len(probe))
			if err != nil {
				return err
			}
			echo[echoIdx] = probe[probeIdx]
		}

		outPayload := echo
		if aes != nil {
			outPayload, err = aes.Encrypt(echo)
			if err != nil {
				return err
			}
		}
		if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageTest, tcpms.DataBlob, outPayload)); err != nil {
			return err
		}

		verdict, err := h.ObtainExpected(ctx, tcpms.PackageTestTrySuccess, tcpms.PackageTestTryFailure)
		if err != nil {
			return err
		}
		if verdict.Type == tcpms.PackageTestTryFailure {
			return ErrValidationFailed
		}
	}
	return nil
}
