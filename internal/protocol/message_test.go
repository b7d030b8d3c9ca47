package protocol

import (
	"testing"

	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   MessageType
		wantFields []string
		wantErr    error
	}{
		{
			name:       "factor request",
			raw:        "FACTOR_REQ|7|8051",
			wantType:   TypeFactorReq,
			wantFields: []string{"7", "8051"},
		},
		{
			name:       "surrounding whitespace and newline are stripped",
			raw:        "  CANCEL_RESP|5\r\n",
			wantType:   TypeCancelResp,
			wantFields: []string{"5"},
		},
		{
			name:       "pollard response keeps the factor list intact",
			raw:        "POLLARD_RESP|3|7|8051|83,97",
			wantType:   TypePollardResp,
			wantFields: []string{"3", "7", "8051", "83,97"},
		},
		{
			name:    "missing fields",
			raw:     "POLLARD_RESP|3|7",
			wantErr: ErrArity,
		},
		{
			name:    "extra fields",
			raw:     "CANCEL_RESP|5|6",
			wantErr: ErrArity,
		},
		{
			name:    "unknown type",
			raw:     "HELLO|1",
			wantErr: ErrUnknownType,
		},
		{
			name:    "empty line",
			raw:     " \n",
			wantErr: ErrEmptyMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantFields, msg.Fields)
		})
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "POLLARD_REQ|3|7|8051",
		PollardRequest{WorkerID: 3, ClientID: "7", Target: "8051"}.Encode())
	assert.Equal(t, "CANCEL_REQ|5", CancelRequest{WorkerID: 5}.Encode())
	assert.Equal(t, "FACTOR_RESP|7|8051|83,97",
		FactorResponseFrom(types.CompletedResult{ClientID: "7", Target: "8051", FactorsCSV: "83,97"}).Encode())
	assert.Equal(t, "FACTOR_REQ|7|8051", FactorRequest{ClientID: "7", Target: "8051"}.Encode())
}

func TestDecodePollardResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    PollardResponse
		wantErr error
	}{
		{
			name: "valid",
			raw:  "POLLARD_RESP|3|7|8051|83,97",
			want: PollardResponse{WorkerID: 3, ClientID: "7", Target: "8051", FactorsCSV: "83,97"},
		},
		{
			name: "target beyond int64",
			raw:  "POLLARD_RESP|12|c1|340282366920938463463374607431768211457|59649589127497217,5704689200685129054721",
			want: PollardResponse{
				WorkerID:   12,
				ClientID:   "c1",
				Target:     "340282366920938463463374607431768211457",
				FactorsCSV: "59649589127497217,5704689200685129054721",
			},
		},
		{
			name:    "non-numeric worker id",
			raw:     "POLLARD_RESP|abc|7|8051|83,97",
			wantErr: ErrBadWorkerID,
		},
		{
			name:    "negative worker id",
			raw:     "POLLARD_RESP|-1|7|8051|83,97",
			wantErr: ErrBadWorkerID,
		},
		{
			name:    "non-decimal target",
			raw:     "POLLARD_RESP|3|7|80x1|83,97",
			wantErr: ErrBadTarget,
		},
		{
			name:    "empty factor in list",
			raw:     "POLLARD_RESP|3|7|8051|83,",
			wantErr: ErrBadFactorList,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.raw)
			require.NoError(t, err)

			got, err := DecodePollardResponse(msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFactorRequest(t *testing.T) {
	msg, err := Parse("FACTOR_REQ|7|8051")
	require.NoError(t, err)
	req, err := DecodeFactorRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, FactorRequest{ClientID: "7", Target: "8051"}, req)

	msg, err = Parse("FACTOR_REQ|7|0")
	require.NoError(t, err)
	_, err = DecodeFactorRequest(msg)
	assert.ErrorIs(t, err, ErrBadTarget)

	// 08051 would otherwise start a sibling group apart from 8051
	msg, err = Parse("FACTOR_REQ|7|08051")
	require.NoError(t, err)
	_, err = DecodeFactorRequest(msg)
	assert.ErrorIs(t, err, ErrBadTarget)

	msg, err = Parse("FACTOR_REQ||8051")
	require.NoError(t, err)
	_, err = DecodeFactorRequest(msg)
	assert.ErrorIs(t, err, ErrBadClientID)

	msg, err = Parse("CANCEL_RESP|5")
	require.NoError(t, err)
	_, err = DecodeFactorRequest(msg)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeCancelMessages(t *testing.T) {
	msg, err := Parse("CANCEL_REQ|5")
	require.NoError(t, err)
	req, err := DecodeCancelRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, types.ConnID(5), req.WorkerID)

	msg, err = Parse("CANCEL_RESP|x")
	require.NoError(t, err)
	_, err = DecodeCancelResponse(msg)
	assert.ErrorIs(t, err, ErrBadWorkerID)
}

func TestValidTarget(t *testing.T) {
	assert.True(t, ValidTarget("8051"))
	assert.True(t, ValidTarget("123456789012345678901234567890"))
	assert.False(t, ValidTarget(""))
	assert.False(t, ValidTarget("0"))
	assert.False(t, ValidTarget("0008051"), "leading zeros are not canonical")
	assert.False(t, ValidTarget("08051"))
	assert.False(t, ValidTarget("-15"))
	assert.False(t, ValidTarget("+15"))
	assert.False(t, ValidTarget("1e9"))
}

func TestSplitFactors(t *testing.T) {
	factors, err := SplitFactors("83,97")
	require.NoError(t, err)
	assert.Equal(t, []string{"83", "97"}, factors)
	assert.Equal(t, "83,97", JoinFactors(factors))

	_, err = SplitFactors("")
	assert.ErrorIs(t, err, ErrBadFactorList)
}
