package protocol

import "github.com/kernbread/finalProjectDistributedForNoel/pkg/types"

// FactorRequest asks the coordinator to factor Target on behalf of ClientID.
type FactorRequest struct {
	ClientID string
	Target   string
}

func (r FactorRequest) Encode() string {
	return Encode(TypeFactorReq, r.ClientID, r.Target)
}

// DecodeFactorRequest validates a parsed FACTOR_REQ.
func DecodeFactorRequest(m Message) (FactorRequest, error) {
	if err := expect(m, TypeFactorReq); err != nil {
		return FactorRequest{}, err
	}
	r := FactorRequest{ClientID: m.Fields[0], Target: m.Fields[1]}
	if err := checkClientID(r.ClientID); err != nil {
		return FactorRequest{}, err
	}
	if err := checkTarget(r.Target); err != nil {
		return FactorRequest{}, err
	}
	return r, nil
}

// PollardRequest dispatches one job row to a worker.
type PollardRequest struct {
	WorkerID types.ConnID
	ClientID string
	Target   string
}

func (r PollardRequest) Encode() string {
	return Encode(TypePollardReq, r.WorkerID.String(), r.ClientID, r.Target)
}

func DecodePollardRequest(m Message) (PollardRequest, error) {
	if err := expect(m, TypePollardReq); err != nil {
		return PollardRequest{}, err
	}
	id, err := ParseWorkerID(m.Fields[0])
	if err != nil {
		return PollardRequest{}, err
	}
	r := PollardRequest{WorkerID: id, ClientID: m.Fields[1], Target: m.Fields[2]}
	if err := checkClientID(r.ClientID); err != nil {
		return PollardRequest{}, err
	}
	if err := checkTarget(r.Target); err != nil {
		return PollardRequest{}, err
	}
	return r, nil
}

// PollardResponse carries a worker's factorization of Target.
type PollardResponse struct {
	WorkerID   types.ConnID
	ClientID   string
	Target     string
	FactorsCSV string
}

func (r PollardResponse) Encode() string {
	return Encode(TypePollardResp, r.WorkerID.String(), r.ClientID, r.Target, r.FactorsCSV)
}

func DecodePollardResponse(m Message) (PollardResponse, error) {
	if err := expect(m, TypePollardResp); err != nil {
		return PollardResponse{}, err
	}
	id, err := ParseWorkerID(m.Fields[0])
	if err != nil {
		return PollardResponse{}, err
	}
	r := PollardResponse{WorkerID: id, ClientID: m.Fields[1], Target: m.Fields[2], FactorsCSV: m.Fields[3]}
	if err := checkClientID(r.ClientID); err != nil {
		return PollardResponse{}, err
	}
	if err := checkTarget(r.Target); err != nil {
		return PollardResponse{}, err
	}
	if _, err := SplitFactors(r.FactorsCSV); err != nil {
		return PollardResponse{}, err
	}
	return r, nil
}

// CancelRequest tells a worker to abandon its current computation.
type CancelRequest struct {
	WorkerID types.ConnID
}

func (r CancelRequest) Encode() string {
	return Encode(TypeCancelReq, r.WorkerID.String())
}

func DecodeCancelRequest(m Message) (CancelRequest, error) {
	if err := expect(m, TypeCancelReq); err != nil {
		return CancelRequest{}, err
	}
	id, err := ParseWorkerID(m.Fields[0])
	if err != nil {
		return CancelRequest{}, err
	}
	return CancelRequest{WorkerID: id}, nil
}

// CancelResponse acknowledges a CancelRequest.
type CancelResponse struct {
	WorkerID types.ConnID
}

func (r CancelResponse) Encode() string {
	return Encode(TypeCancelResp, r.WorkerID.String())
}

func DecodeCancelResponse(m Message) (CancelResponse, error) {
	if err := expect(m, TypeCancelResp); err != nil {
		return CancelResponse{}, err
	}
	id, err := ParseWorkerID(m.Fields[0])
	if err != nil {
		return CancelResponse{}, err
	}
	return CancelResponse{WorkerID: id}, nil
}

// FactorResponse relays a completed result to the upstream peer.
type FactorResponse struct {
	ClientID   string
	Target     string
	FactorsCSV string
}

// FactorResponseFrom builds the upstream message for a completed result.
func FactorResponseFrom(r types.CompletedResult) FactorResponse {
	return FactorResponse{ClientID: r.ClientID, Target: r.Target, FactorsCSV: r.FactorsCSV}
}

func (r FactorResponse) Encode() string {
	return Encode(TypeFactorResp, r.ClientID, r.Target, r.FactorsCSV)
}

func DecodeFactorResponse(m Message) (FactorResponse, error) {
	if err := expect(m, TypeFactorResp); err != nil {
		return FactorResponse{}, err
	}
	r := FactorResponse{ClientID: m.Fields[0], Target: m.Fields[1], FactorsCSV: m.Fields[2]}
	if err := checkClientID(r.ClientID); err != nil {
		return FactorResponse{}, err
	}
	if err := checkTarget(r.Target); err != nil {
		return FactorResponse{}, err
	}
	if _, err := SplitFactors(r.FactorsCSV); err != nil {
		return FactorResponse{}, err
	}
	return r, nil
}
