// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the robust channel error vocabulary: RM status codes, the RM
// hardware error types reported through the error notifier or the RC callback, and the
// logical error codes a channel owner observes.
package rc

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	DBG_LVL_DEFAULT     = iota //0
	DBG_LVL_BASIC              //1
	DBG_LVL_INFO               //2
	DBG_LVL_DETAIL             //3
	DBG_LVL_DEEP_DETAIL        //4
)

// Handle is an RM object handle.
type Handle uint32

// NvStatus is an RM API return status.
type NvStatus uint32

const (
	NV_OK                NvStatus = 0x00000000
	NV_ERR_BUSY_RETRY    NvStatus = 0x00000003
	NV_ERR_IN_USE        NvStatus = 0x00000026
	NV_ERR_INVALID_STATE NvStatus = 0x00000040
	NV_ERR_TIMEOUT       NvStatus = 0x00000065
	NV_ERR_GENERIC       NvStatus = 0x0000FFFF
)

var nvStatusNames = map[NvStatus]string{
	NV_OK:                "NV_OK",
	NV_ERR_BUSY_RETRY:    "NV_ERR_BUSY_RETRY",
	NV_ERR_IN_USE:        "NV_ERR_IN_USE",
	NV_ERR_INVALID_STATE: "NV_ERR_INVALID_STATE",
	NV_ERR_TIMEOUT:       "NV_ERR_TIMEOUT",
	NV_ERR_GENERIC:       "NV_ERR_GENERIC",
}

func (s NvStatus) Error() string {
	if name, ok := nvStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NvStatus(0x%X)", uint32(s))
}

// retryable reports whether the RM asks to call again later.
func (s NvStatus) retryable() bool {
	return s == NV_ERR_BUSY_RETRY || s == NV_ERR_IN_USE
}

// RmErrorType is the hardware error type the RM reports for a robust channel error.
// Values follow the Xid numbering.
type RmErrorType uint32

const (
	ROBUST_CHANNEL_FIFO_ERROR_FIFO_METHOD   RmErrorType = 1
	ROBUST_CHANNEL_FIFO_ERROR_SW_METHOD     RmErrorType = 2
	ROBUST_CHANNEL_FIFO_ERROR_UNK_METHOD    RmErrorType = 3
	ROBUST_CHANNEL_FIFO_ERROR_CHANNEL_BUSY  RmErrorType = 4
	ROBUST_CHANNEL_FIFO_ERROR_RUNOUT_OVFLW  RmErrorType = 5
	ROBUST_CHANNEL_FIFO_ERROR_PARSE_ERR     RmErrorType = 6
	ROBUST_CHANNEL_FIFO_ERROR_PTE_ERR       RmErrorType = 7
	ROBUST_CHANNEL_FIFO_ERROR_IDLE_TIMEOUT  RmErrorType = 8
	ROBUST_CHANNEL_GR_EXCEPTION             RmErrorType = 13
	ROBUST_CHANNEL_FIFO_ERROR_MMU_ERR_FLT   RmErrorType = 31
	ROBUST_CHANNEL_PBDMA_ERROR              RmErrorType = 32
	ROBUST_CHANNEL_RESETCHANNEL_VERIF_ERROR RmErrorType = 43
	ROBUST_CHANNEL_GR_FAULT_DURING_CTXSW    RmErrorType = 44
	ROBUST_CHANNEL_PREEMPTIVE_REMOVAL       RmErrorType = 45
	ROBUST_CHANNEL_ECC_DBE                  RmErrorType = 48
	ROBUST_CHANNEL_GR_CLASS_ERROR           RmErrorType = 69
	ROBUST_CHANNEL_CTXSW_TIMEOUT            RmErrorType = 109
)

// ErrorCode is the logical error a channel reports. OK is the zero value.
type ErrorCode int

const (
	OK ErrorCode = iota
	RM_RCH_FIFO_ERROR_FIFO_METHOD
	RM_RCH_FIFO_ERROR_SW_METHOD
	RM_RCH_FIFO_ERROR_UNK_METHOD
	RM_RCH_FIFO_ERROR_CHANNEL_BUSY
	RM_RCH_FIFO_ERROR_RUNOUT_OVERFLOW
	RM_RCH_FIFO_ERROR_PARSE_ERR
	RM_RCH_FIFO_ERROR_PTE_ERR
	RM_RCH_FIFO_ERROR_IDLE_TIMEOUT
	RM_RCH_GR_EXCEPTION
	RM_RCH_FIFO_ERROR_MMU_ERR_FLT
	RM_RCH_PBDMA_ERROR
	RM_RCH_RESETCHANNEL_VERIF_ERROR
	RM_RCH_GR_FAULT_DURING_CTXSW
	RM_RCH_PREEMPTIVE_REMOVAL
	RM_RCH_ECC_DBE
	RM_RCH_GR_CLASS_ERROR
	RM_RCH_CTXSW_TIMEOUT
	RM_RCH_UNKNOWN_ERROR
	RESET_IN_PROGRESS
	TIMEOUT_ERROR
	RM_CALL_FAILED
	RM_INVALID_STATE
)

var errorCodeNames = map[ErrorCode]string{
	OK:                                "OK",
	RM_RCH_FIFO_ERROR_FIFO_METHOD:     "RM_RCH_FIFO_ERROR_FIFO_METHOD",
	RM_RCH_FIFO_ERROR_SW_METHOD:       "RM_RCH_FIFO_ERROR_SW_METHOD",
	RM_RCH_FIFO_ERROR_UNK_METHOD:      "RM_RCH_FIFO_ERROR_UNK_METHOD",
	RM_RCH_FIFO_ERROR_CHANNEL_BUSY:    "RM_RCH_FIFO_ERROR_CHANNEL_BUSY",
	RM_RCH_FIFO_ERROR_RUNOUT_OVERFLOW: "RM_RCH_FIFO_ERROR_RUNOUT_OVERFLOW",
	RM_RCH_FIFO_ERROR_PARSE_ERR:       "RM_RCH_FIFO_ERROR_PARSE_ERR",
	RM_RCH_FIFO_ERROR_PTE_ERR:         "RM_RCH_FIFO_ERROR_PTE_ERR",
	RM_RCH_FIFO_ERROR_IDLE_TIMEOUT:    "RM_RCH_FIFO_ERROR_IDLE_TIMEOUT",
	RM_RCH_GR_EXCEPTION:               "RM_RCH_GR_EXCEPTION",
	RM_RCH_FIFO_ERROR_MMU_ERR_FLT:     "RM_RCH_FIFO_ERROR_MMU_ERR_FLT",
	RM_RCH_PBDMA_ERROR:                "RM_RCH_PBDMA_ERROR",
	RM_RCH_RESETCHANNEL_VERIF_ERROR:   "RM_RCH_RESETCHANNEL_VERIF_ERROR",
	RM_RCH_GR_FAULT_DURING_CTXSW:      "RM_RCH_GR_FAULT_DURING_CTXSW",
	RM_RCH_PREEMPTIVE_REMOVAL:         "RM_RCH_PREEMPTIVE_REMOVAL",
	RM_RCH_ECC_DBE:                    "RM_RCH_ECC_DBE",
	RM_RCH_GR_CLASS_ERROR:             "RM_RCH_GR_CLASS_ERROR",
	RM_RCH_CTXSW_TIMEOUT:              "RM_RCH_CTXSW_TIMEOUT",
	RM_RCH_UNKNOWN_ERROR:              "RM_RCH_UNKNOWN_ERROR",
	RESET_IN_PROGRESS:                 "RESET_IN_PROGRESS",
	TIMEOUT_ERROR:                     "TIMEOUT_ERROR",
	RM_CALL_FAILED:                    "RM_CALL_FAILED",
	RM_INVALID_STATE:                  "RM_INVALID_STATE",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

func (c ErrorCode) Error() string {
	return c.String()
}

// Err returns nil for OK and the code itself otherwise.
func (c ErrorCode) Err() error {
	if c == OK {
		return nil
	}
	return c
}

// rmErrorDetail is the static description of one RM error type.
type rmErrorDetail struct {
	Name string
	Code ErrorCode
}

var rmErrorDetails = map[RmErrorType]rmErrorDetail{
	ROBUST_CHANNEL_FIFO_ERROR_FIFO_METHOD:   {Name: "FIFO_ERROR_FIFO_METHOD", Code: RM_RCH_FIFO_ERROR_FIFO_METHOD},
	ROBUST_CHANNEL_FIFO_ERROR_SW_METHOD:     {Name: "FIFO_ERROR_SW_METHOD", Code: RM_RCH_FIFO_ERROR_SW_METHOD},
	ROBUST_CHANNEL_FIFO_ERROR_UNK_METHOD:    {Name: "FIFO_ERROR_UNK_METHOD", Code: RM_RCH_FIFO_ERROR_UNK_METHOD},
	ROBUST_CHANNEL_FIFO_ERROR_CHANNEL_BUSY:  {Name: "FIFO_ERROR_CHANNEL_BUSY", Code: RM_RCH_FIFO_ERROR_CHANNEL_BUSY},
	ROBUST_CHANNEL_FIFO_ERROR_RUNOUT_OVFLW:  {Name: "FIFO_ERROR_RUNOUT_OVERFLOW", Code: RM_RCH_FIFO_ERROR_RUNOUT_OVERFLOW},
	ROBUST_CHANNEL_FIFO_ERROR_PARSE_ERR:     {Name: "FIFO_ERROR_PARSE_ERR", Code: RM_RCH_FIFO_ERROR_PARSE_ERR},
	ROBUST_CHANNEL_FIFO_ERROR_PTE_ERR:       {Name: "FIFO_ERROR_PTE_ERR", Code: RM_RCH_FIFO_ERROR_PTE_ERR},
	ROBUST_CHANNEL_FIFO_ERROR_IDLE_TIMEOUT:  {Name: "FIFO_ERROR_IDLE_TIMEOUT", Code: RM_RCH_FIFO_ERROR_IDLE_TIMEOUT},
	ROBUST_CHANNEL_GR_EXCEPTION:             {Name: "GR_EXCEPTION", Code: RM_RCH_GR_EXCEPTION},
	ROBUST_CHANNEL_FIFO_ERROR_MMU_ERR_FLT:   {Name: "FIFO_ERROR_MMU_ERR_FLT", Code: RM_RCH_FIFO_ERROR_MMU_ERR_FLT},
	ROBUST_CHANNEL_PBDMA_ERROR:              {Name: "PBDMA_ERROR", Code: RM_RCH_PBDMA_ERROR},
	ROBUST_CHANNEL_RESETCHANNEL_VERIF_ERROR: {Name: "RESETCHANNEL_VERIF_ERROR", Code: RM_RCH_RESETCHANNEL_VERIF_ERROR},
	ROBUST_CHANNEL_GR_FAULT_DURING_CTXSW:    {Name: "GR_FAULT_DURING_CTXSW", Code: RM_RCH_GR_FAULT_DURING_CTXSW},
	ROBUST_CHANNEL_PREEMPTIVE_REMOVAL:       {Name: "PREEMPTIVE_REMOVAL", Code: RM_RCH_PREEMPTIVE_REMOVAL},
	ROBUST_CHANNEL_ECC_DBE:                  {Name: "ECC_DBE", Code: RM_RCH_ECC_DBE},
	ROBUST_CHANNEL_GR_CLASS_ERROR:           {Name: "GR_CLASS_ERROR", Code: RM_RCH_GR_CLASS_ERROR},
	ROBUST_CHANNEL_CTXSW_TIMEOUT:            {Name: "CTXSW_TIMEOUT", Code: RM_RCH_CTXSW_TIMEOUT},
}

func (t RmErrorType) String() string {
	if d, ok := rmErrorDetails[t]; ok {
		return d.Name
	}
	return fmt.Sprintf("RmErrorType(%d)", uint32(t))
}

// TranslateRmError maps an RM hardware error type to the logical error code.
func TranslateRmError(t RmErrorType) ErrorCode {
	if d, ok := rmErrorDetails[t]; ok {
		return d.Code
	}
	return RM_RCH_UNKNOWN_ERROR
}

// StatusToErrorCode maps a terminal RM status to the logical error code.
func StatusToErrorCode(s NvStatus) ErrorCode {
	switch s {
	case NV_OK:
		return OK
	case NV_ERR_TIMEOUT:
		return TIMEOUT_ERROR
	case NV_ERR_INVALID_STATE:
		return RM_INVALID_STATE
	}
	return RM_CALL_FAILED
}

// ToErrorCode unwraps err down to an ErrorCode or an NvStatus.
func ToErrorCode(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	var status NvStatus
	if errors.As(err, &status) {
		return StatusToErrorCode(status)
	}
	return RM_CALL_FAILED
}
