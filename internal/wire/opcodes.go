// Package wire implements the on-the-wire frame grammar, operation code
// enum, and request/response envelopes of spec §6, grounded on
// original_source/src/client/op_info.h's tagged operation_info_t union and
// on the teacher's api/client message shapes (pkg/api), adapted here from
// protobuf/gRPC messages to a hand-rolled length-prefixed binary frame
// carrying a JSON operation body, since the spec mandates a custom wire
// protocol rather than RPC.
package wire

// OpCode names one of the server-side operations spec §6 lists as stable
// identifiers.
type OpCode uint8

const (
	OpListPeers OpCode = iota
	OpPeer
	OpExecuteCode
	OpCreateWitness
	OpNOP
	OpDumpEverything
	OpLoadEverything
	OpPutObject
	OpPutObjectWithoutKey
	OpRemoveObject
	OpClear
	OpSetTrigger
	OpUnsetTrigger
	OpHasObject
	OpCheckObject
	OpGetObject
	OpGetObjectWithWitness
	OpGetObjectHistory
	OpCreateIndex
	OpDropIndex
	OpDiffVersions
	OpCountObjects
	OpFindObjects
	OpAddToObject
	OpCallProgram
	OpOrderEvents
	OpCommitTransaction
	OpGetStatistics
)

var opNames = [...]string{
	"ListPeers", "Peer", "ExecuteCode", "CreateWitness", "NOP",
	"DumpEverything", "LoadEverything", "PutObject", "PutObjectWithoutKey",
	"RemoveObject", "Clear", "SetTrigger", "UnsetTrigger", "HasObject",
	"CheckObject", "GetObject", "GetObjectWithWitness", "GetObjectHistory",
	"CreateIndex", "DropIndex", "DiffVersions", "CountObjects",
	"FindObjects", "AddToObject", "CallProgram", "OrderEvents",
	"CommitTransaction", "GetStatistics",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "Unknown"
}
