package oracle

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"FeedRelay/internal/types"
)

const (
	// maxValueSize bounds the report payload accepted from the wire.
	maxValueSize = 1024

	// maxValidators bounds the validator set size accepted from the wire.
	maxValidators = 1024
)

// attestationDomain separates attestation digests from other BLAKE3 uses.
var attestationDomain = []byte("feedrelay-attestation-v1")

// Digest returns the canonical hash validators sign over.
// Format: domain || feedID || u32 len(value) || value || timestamp || power
// || previous || next || lastConsensus || attestationTimestamp (big-endian).
func (a *Attestation) Digest() [32]byte {
	h := blake3.New()
	h.Write(attestationDomain)
	h.Write(a.FeedID[:])

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(len(a.Report.Value)))
	h.Write(buf[:4])
	h.Write(a.Report.Value)

	for _, v := range []uint64{
		a.Report.Timestamp,
		a.Report.AggregatePower,
		a.Report.PreviousTimestamp,
		a.Report.NextTimestamp,
		a.Report.LastConsensusTimestamp,
		a.AttestationTimestamp,
	} {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

// EncodeSubmission serializes a submission as a FlatBuffers Submission.
func EncodeSubmission(sub *Submission) []byte {
	builder := flatbuffers.NewBuilder(1024)

	attOff := buildAttestation(builder, &sub.Attestation)

	validatorOffsets := make([]flatbuffers.UOffsetT, len(sub.ValidatorSet.Validators))
	for i, v := range sub.ValidatorSet.Validators {
		addrOff := builder.CreateByteVector(v.Address[:])
		pkOff := builder.CreateByteVector(v.PublicKey)

		types.ValidatorStart(builder)
		types.ValidatorAddAddress(builder, addrOff)
		types.ValidatorAddPower(builder, v.Power)
		types.ValidatorAddPublicKey(builder, pkOff)
		validatorOffsets[i] = types.ValidatorEnd(builder)
	}

	types.SubmissionStartValidatorsVector(builder, len(validatorOffsets))
	for i := len(validatorOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(validatorOffsets[i])
	}
	validatorsVec := builder.EndVector(len(validatorOffsets))

	sigOffsets := make([]flatbuffers.UOffsetT, len(sub.Signatures))
	for i, sig := range sub.Signatures {
		dataOff := builder.CreateByteVector(sig)

		types.SignatureStart(builder)
		types.SignatureAddData(builder, dataOff)
		sigOffsets[i] = types.SignatureEnd(builder)
	}

	types.SubmissionStartSignaturesVector(builder, len(sigOffsets))
	for i := len(sigOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(sigOffsets[i])
	}
	sigsVec := builder.EndVector(len(sigOffsets))

	types.SubmissionStart(builder)
	types.SubmissionAddAttestation(builder, attOff)
	types.SubmissionAddValidators(builder, validatorsVec)
	types.SubmissionAddValidatorTimestamp(builder, sub.ValidatorSet.Timestamp)
	types.SubmissionAddSignatures(builder, sigsVec)
	builder.Finish(types.SubmissionEnd(builder))

	return builder.FinishedBytes()
}

// buildAttestation writes an Attestation table and returns its offset.
func buildAttestation(builder *flatbuffers.Builder, att *Attestation) flatbuffers.UOffsetT {
	valueOff := builder.CreateByteVector(att.Report.Value)

	types.ReportStart(builder)
	types.ReportAddValue(builder, valueOff)
	types.ReportAddTimestamp(builder, att.Report.Timestamp)
	types.ReportAddAggregatePower(builder, att.Report.AggregatePower)
	types.ReportAddPreviousTimestamp(builder, att.Report.PreviousTimestamp)
	types.ReportAddNextTimestamp(builder, att.Report.NextTimestamp)
	types.ReportAddLastConsensusTimestamp(builder, att.Report.LastConsensusTimestamp)
	reportOff := types.ReportEnd(builder)

	feedOff := builder.CreateByteVector(att.FeedID[:])

	types.AttestationStart(builder)
	types.AttestationAddFeedId(builder, feedOff)
	types.AttestationAddReport(builder, reportOff)
	types.AttestationAddAttestationTimestamp(builder, att.AttestationTimestamp)

	return types.AttestationEnd(builder)
}

// DecodeSubmission parses FlatBuffers Submission bytes.
// Structural errors are returned, never panics.
func DecodeSubmission(data []byte) (sub *Submission, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			sub = nil
			retErr = fmt.Errorf("malformed submission data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("submission data too short")
	}

	fb := types.GetRootAsSubmission(data, 0)

	fbAtt := fb.Attestation(nil)
	if fbAtt == nil {
		return nil, fmt.Errorf("missing attestation")
	}

	att, err := decodeAttestation(fbAtt)
	if err != nil {
		return nil, err
	}

	vs, err := decodeValidators(fb)
	if err != nil {
		return nil, err
	}

	sigs := make(Signatures, fb.SignaturesLength())
	var fbSig types.Signature

	for i := range sigs {
		fb.Signatures(&fbSig, i)
		sigs[i] = append([]byte(nil), fbSig.DataBytes()...)
	}

	return &Submission{
		Attestation:  *att,
		ValidatorSet: *vs,
		Signatures:   sigs,
	}, nil
}

// decodeAttestation converts a FlatBuffers attestation and checks field sizes.
func decodeAttestation(fb *types.Attestation) (*Attestation, error) {
	feed := fb.FeedIdBytes()
	if len(feed) != FeedIDSize {
		return nil, fmt.Errorf("invalid feed id size: got %d, want %d", len(feed), FeedIDSize)
	}

	report := fb.Report(nil)
	if report == nil {
		return nil, fmt.Errorf("missing report")
	}

	value := report.ValueBytes()
	if len(value) > maxValueSize {
		return nil, fmt.Errorf("report value too large: %d > %d", len(value), maxValueSize)
	}

	att := &Attestation{
		Report: Report{
			Value:                  append([]byte(nil), value...),
			Timestamp:              report.Timestamp(),
			AggregatePower:         report.AggregatePower(),
			PreviousTimestamp:      report.PreviousTimestamp(),
			NextTimestamp:          report.NextTimestamp(),
			LastConsensusTimestamp: report.LastConsensusTimestamp(),
		},
		AttestationTimestamp: fb.AttestationTimestamp(),
	}
	copy(att.FeedID[:], feed)

	return att, nil
}

// decodeValidators extracts the validator set from a submission.
func decodeValidators(fb *types.Submission) (*ValidatorSet, error) {
	n := fb.ValidatorsLength()
	if n > maxValidators {
		return nil, fmt.Errorf("too many validators: %d (max %d)", n, maxValidators)
	}

	vs := &ValidatorSet{
		Validators: make([]Validator, n),
		Timestamp:  fb.ValidatorTimestamp(),
	}

	var fbVal types.Validator

	for i := 0; i < n; i++ {
		fb.Validators(&fbVal, i)

		addr := fbVal.AddressBytes()
		if len(addr) != len(Address{}) {
			return nil, fmt.Errorf("invalid validator address size at index %d: %d", i, len(addr))
		}

		v := Validator{
			Power:     fbVal.Power(),
			PublicKey: append([]byte(nil), fbVal.PublicKeyBytes()...),
		}
		copy(v.Address[:], addr)

		vs.Validators[i] = v
	}

	return vs, nil
}

// EncodeRecord serializes an aggregate record as a FlatBuffers AggregateRecord.
func EncodeRecord(rec *AggregateRecord) []byte {
	builder := flatbuffers.NewBuilder(64 + len(rec.Value))

	valueOff := builder.CreateByteVector(rec.Value)

	types.AggregateRecordStart(builder)
	types.AggregateRecordAddValue(builder, valueOff)
	types.AggregateRecordAddPower(builder, rec.Power)
	types.AggregateRecordAddAggregateTimestamp(builder, rec.AggregateTimestamp)
	types.AggregateRecordAddAttestationTimestamp(builder, rec.AttestationTimestamp)
	types.AggregateRecordAddRelayTimestamp(builder, rec.RelayTimestamp)
	builder.Finish(types.AggregateRecordEnd(builder))

	return builder.FinishedBytes()
}

// DecodeRecord parses FlatBuffers AggregateRecord bytes.
func DecodeRecord(data []byte) (rec AggregateRecord, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			rec = AggregateRecord{}
			retErr = fmt.Errorf("malformed record data")
		}
	}()

	if len(data) < 8 {
		return AggregateRecord{}, fmt.Errorf("record data too short")
	}

	fb := types.GetRootAsAggregateRecord(data, 0)

	return AggregateRecord{
		Value:                append([]byte(nil), fb.ValueBytes()...),
		Power:                fb.Power(),
		AggregateTimestamp:   fb.AggregateTimestamp(),
		AttestationTimestamp: fb.AttestationTimestamp(),
		RelayTimestamp:       fb.RelayTimestamp(),
	}, nil
}
