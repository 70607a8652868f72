package graph

type (
	Op uint8

	opInfo struct {
		name string

		value, effect, control int8 // -1 for variadic

		commutative bool
		pure        bool // no effect or control outputs, may be dropped if unused
	}
)

const (
	OpInvalid Op = iota

	// common
	Dead
	Start
	End
	Parameter
	Int32Constant
	Int64Constant
	Float64Constant
	HeapConstant
	ExternalConstant
	Branch
	IfTrue
	IfFalse
	Merge
	Phi
	EffectPhi
	Return
	Projection
	Finish
	ValueEffect
	ControlEffect
	Call

	// simplified
	ChangeBitToBool
	ChangeBoolToBit
	ChangeInt32ToTagged
	ChangeUint32ToTagged
	ChangeFloat64ToTagged
	ChangeTaggedToInt32
	ChangeTaggedToUint32
	ChangeTaggedToFloat64
	StringAdd

	// machine
	Load
	Store

	Word32And
	Word32Or
	Word32Xor
	Word32Shl
	Word32Shr
	Word32Sar
	Word32Ror
	Word32Equal

	Word64And
	Word64Or
	Word64Xor
	Word64Shl
	Word64Shr
	Word64Sar
	Word64Equal

	Int32Add
	Int32AddWithOverflow
	Int32Sub
	Int32SubWithOverflow
	Int32Mul
	Int32Div
	Int32UDiv
	Int32Mod
	Int32UMod
	Int32LessThan
	Int32LessThanOrEqual
	Uint32LessThan
	Uint32LessThanOrEqual

	ChangeInt32ToFloat64
	ChangeUint32ToFloat64
	ChangeFloat64ToInt32
	ChangeFloat64ToUint32
	ChangeInt32ToInt64
	ChangeUint32ToUint64
	TruncateFloat64ToInt32
	TruncateInt64ToInt32

	Float64Add
	Float64Sub
	Float64Mul
	Float64Div
	Float64Equal
	Float64LessThan
	Float64LessThanOrEqual

	NumOps
)

const variadic = -1

var ops = [NumOps]opInfo{
	OpInvalid: {name: "Invalid"},

	Dead:             {name: "Dead"},
	Start:            {name: "Start"},
	End:              {name: "End", control: variadic},
	Parameter:        {name: "Parameter", control: 1, pure: true},
	Int32Constant:    {name: "Int32Constant", pure: true},
	Int64Constant:    {name: "Int64Constant", pure: true},
	Float64Constant:  {name: "Float64Constant", pure: true},
	HeapConstant:     {name: "HeapConstant", pure: true},
	ExternalConstant: {name: "ExternalConstant", pure: true},
	Branch:           {name: "Branch", value: 1, control: 1},
	IfTrue:           {name: "IfTrue", control: 1},
	IfFalse:          {name: "IfFalse", control: 1},
	Merge:            {name: "Merge", control: variadic},
	Phi:              {name: "Phi", value: variadic, control: 1, pure: true},
	EffectPhi:        {name: "EffectPhi", effect: variadic, control: 1},
	Return:           {name: "Return", value: 1, effect: 1, control: 1},
	Projection:       {name: "Projection", value: 1, pure: true},
	Finish:           {name: "Finish", value: 1, effect: 1},
	ValueEffect:      {name: "ValueEffect", value: 1},
	ControlEffect:    {name: "ControlEffect", control: 1},
	Call:             {name: "Call", value: variadic, effect: 1, control: 1},

	ChangeBitToBool:       {name: "ChangeBitToBool", value: 1, effect: variadic, control: variadic},
	ChangeBoolToBit:       {name: "ChangeBoolToBit", value: 1, effect: variadic, control: variadic},
	ChangeInt32ToTagged:   {name: "ChangeInt32ToTagged", value: 1, effect: variadic, control: variadic},
	ChangeUint32ToTagged:  {name: "ChangeUint32ToTagged", value: 1, effect: variadic, control: variadic},
	ChangeFloat64ToTagged: {name: "ChangeFloat64ToTagged", value: 1, effect: variadic, control: variadic},
	ChangeTaggedToInt32:   {name: "ChangeTaggedToInt32", value: 1, effect: variadic, control: variadic},
	ChangeTaggedToUint32:  {name: "ChangeTaggedToUint32", value: 1, effect: variadic, control: variadic},
	ChangeTaggedToFloat64: {name: "ChangeTaggedToFloat64", value: 1, effect: variadic, control: variadic},
	StringAdd:             {name: "StringAdd", value: 2, effect: variadic, control: variadic},

	Load:  {name: "Load", value: 2, effect: 1, control: variadic},
	Store: {name: "Store", value: 3, effect: 1, control: variadic},

	Word32And:   {name: "Word32And", value: 2, commutative: true, pure: true},
	Word32Or:    {name: "Word32Or", value: 2, commutative: true, pure: true},
	Word32Xor:   {name: "Word32Xor", value: 2, commutative: true, pure: true},
	Word32Shl:   {name: "Word32Shl", value: 2, pure: true},
	Word32Shr:   {name: "Word32Shr", value: 2, pure: true},
	Word32Sar:   {name: "Word32Sar", value: 2, pure: true},
	Word32Ror:   {name: "Word32Ror", value: 2, pure: true},
	Word32Equal: {name: "Word32Equal", value: 2, commutative: true, pure: true},

	Word64And:   {name: "Word64And", value: 2, commutative: true, pure: true},
	Word64Or:    {name: "Word64Or", value: 2, commutative: true, pure: true},
	Word64Xor:   {name: "Word64Xor", value: 2, commutative: true, pure: true},
	Word64Shl:   {name: "Word64Shl", value: 2, pure: true},
	Word64Shr:   {name: "Word64Shr", value: 2, pure: true},
	Word64Sar:   {name: "Word64Sar", value: 2, pure: true},
	Word64Equal: {name: "Word64Equal", value: 2, commutative: true, pure: true},

	Int32Add:              {name: "Int32Add", value: 2, commutative: true, pure: true},
	Int32AddWithOverflow:  {name: "Int32AddWithOverflow", value: 2, commutative: true, pure: true},
	Int32Sub:              {name: "Int32Sub", value: 2, pure: true},
	Int32SubWithOverflow:  {name: "Int32SubWithOverflow", value: 2, pure: true},
	Int32Mul:              {name: "Int32Mul", value: 2, commutative: true, pure: true},
	Int32Div:              {name: "Int32Div", value: 2, pure: true},
	Int32UDiv:             {name: "Int32UDiv", value: 2, pure: true},
	Int32Mod:              {name: "Int32Mod", value: 2, pure: true},
	Int32UMod:             {name: "Int32UMod", value: 2, pure: true},
	Int32LessThan:         {name: "Int32LessThan", value: 2, pure: true},
	Int32LessThanOrEqual:  {name: "Int32LessThanOrEqual", value: 2, pure: true},
	Uint32LessThan:        {name: "Uint32LessThan", value: 2, pure: true},
	Uint32LessThanOrEqual: {name: "Uint32LessThanOrEqual", value: 2, pure: true},

	ChangeInt32ToFloat64:   {name: "ChangeInt32ToFloat64", value: 1, pure: true},
	ChangeUint32ToFloat64:  {name: "ChangeUint32ToFloat64", value: 1, pure: true},
	ChangeFloat64ToInt32:   {name: "ChangeFloat64ToInt32", value: 1, pure: true},
	ChangeFloat64ToUint32:  {name: "ChangeFloat64ToUint32", value: 1, pure: true},
	ChangeInt32ToInt64:     {name: "ChangeInt32ToInt64", value: 1, pure: true},
	ChangeUint32ToUint64:   {name: "ChangeUint32ToUint64", value: 1, pure: true},
	TruncateFloat64ToInt32: {name: "TruncateFloat64ToInt32", value: 1, pure: true},
	TruncateInt64ToInt32:   {name: "TruncateInt64ToInt32", value: 1, pure: true},

	Float64Add:             {name: "Float64Add", value: 2, commutative: true, pure: true},
	Float64Sub:             {name: "Float64Sub", value: 2, pure: true},
	Float64Mul:             {name: "Float64Mul", value: 2, commutative: true, pure: true},
	Float64Div:             {name: "Float64Div", value: 2, pure: true},
	Float64Equal:           {name: "Float64Equal", value: 2, commutative: true, pure: true},
	Float64LessThan:        {name: "Float64LessThan", value: 2, pure: true},
	Float64LessThanOrEqual: {name: "Float64LessThanOrEqual", value: 2, pure: true},
}

var byName map[string]Op

func init() {
	byName = make(map[string]Op, NumOps)

	for op := OpInvalid + 1; op < NumOps; op++ {
		byName[ops[op].name] = op
	}
}

// OpByName finds an operator by its name as printed by String.
func OpByName(name string) (Op, bool) {
	op, ok := byName[name]
	return op, ok
}

func (op Op) String() string {
	if op >= NumOps {
		return "Op(?)"
	}

	return ops[op].name
}

func (op Op) IsCommutative() bool { return ops[op].commutative }
func (op Op) IsPure() bool        { return ops[op].pure }

// IsControl reports whether op takes part in the control chain.
func (op Op) IsControl() bool {
	switch op {
	case Start, End, Branch, IfTrue, IfFalse, Merge, Return:
		return true
	}

	return false
}

func (op Op) IsConstant() bool {
	switch op {
	case Int32Constant, Int64Constant, Float64Constant, HeapConstant, ExternalConstant:
		return true
	}

	return false
}

// IsChange reports whether op is a representation change to be lowered.
func (op Op) IsChange() bool {
	return op >= ChangeBitToBool && op <= ChangeTaggedToFloat64
}

func (op Op) IsShift32() bool {
	return op >= Word32Shl && op <= Word32Ror
}

// Arity is the fixed number of value, effect and control inputs.
// Variadic counts are reported as -1.
func (op Op) Arity() (value, effect, control int) {
	i := ops[op]
	return int(i.value), int(i.effect), int(i.control)
}
