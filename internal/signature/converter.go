package signature

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformed 所有签名解析失败都包装该错误
var ErrMalformed = errors.New("malformed JVM signature")

var (
	classDescriptorPattern = regexp.MustCompile(`^(L[^;]+;)`)
	methodRefPattern       = regexp.MustCompile(`^(L[^;]+;)->([^()]+)\(([^)]*)\)(.+)$`)
	fieldRefPattern        = regexp.MustCompile(`^(L[^;]+;)->([^:]+):(.+)$`)
)

// ParseError 签名解析错误
type ParseError struct {
	Kind   string // class / method / field
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JVM %s signature %q: %s", e.Kind, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

// MethodRef 解析后的方法引用
type MethodRef struct {
	Class  string   // 所属类的规范名
	Name   string   // 方法名
	Params []string // 参数类型，按声明顺序
	Return string   // 返回值类型
}

// Signature 规范方法签名：com.example.Foo.bar(java.lang.String, int):void
func (m *MethodRef) Signature() string {
	return fmt.Sprintf("%s.%s(%s):%s", m.Class, m.Name, strings.Join(m.Params, ", "), m.Return)
}

// FieldRef 解析后的字段引用
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// Signature 规范字段签名，不包含字段类型
func (f *FieldRef) Signature() string {
	return f.Class + "." + f.Name
}

// ExtractClassFQN 从方法/字段引用的开头提取所属类的规范名
// 例如 "Lcom/example/Foo;->bar()V" -> "com.example.Foo"
func ExtractClassFQN(ref string) (string, error) {
	match := classDescriptorPattern.FindStringSubmatch(ref)
	if match == nil {
		return "", &ParseError{Kind: "class", Input: ref, Reason: "no leading class descriptor"}
	}
	return ToClassSignature(match[1])
}

// ToClassSignature 将单个类型描述符转换为规范类名
func ToClassSignature(descriptor string) (string, error) {
	name, rest, err := decodeToken(descriptor)
	if err != nil {
		return "", &ParseError{Kind: "class", Input: descriptor, Reason: err.Error()}
	}
	if rest != "" {
		return "", &ParseError{Kind: "class", Input: descriptor, Reason: fmt.Sprintf("trailing content %q", rest)}
	}
	return name, nil
}

// ToMethodSignature 将 JVM 方法引用转换为规范方法签名
// Lcom/example/Foo;->bar(Ljava/lang/String;I)V -> com.example.Foo.bar(java.lang.String, int):void
func ToMethodSignature(ref string) (string, error) {
	m, err := ParseMethodRef(ref)
	if err != nil {
		return "", err
	}
	return m.Signature(), nil
}

// ParseMethodRef 解析形如 <类描述符>-><方法名>(<参数描述符>)<返回描述符> 的方法引用
func ParseMethodRef(ref string) (*MethodRef, error) {
	match := methodRefPattern.FindStringSubmatch(ref)
	if match == nil {
		return nil, &ParseError{Kind: "method", Input: ref, Reason: "expected Lpkg/Class;->name(params)return"}
	}

	className, err := ToClassSignature(match[1])
	if err != nil {
		return nil, &ParseError{Kind: "method", Input: ref, Reason: err.(*ParseError).Reason}
	}

	// 参数描述符之间没有分隔符，只能按 token 边界逐个解析
	var params []string
	for rest := match[3]; rest != ""; {
		var param string
		param, rest, err = decodeToken(rest)
		if err != nil {
			return nil, &ParseError{Kind: "method", Input: ref, Reason: "parameter: " + err.Error()}
		}
		if param == "void" {
			return nil, &ParseError{Kind: "method", Input: ref, Reason: "parameter of type void"}
		}
		params = append(params, param)
	}

	ret, rest, err := decodeToken(match[4])
	if err != nil {
		return nil, &ParseError{Kind: "method", Input: ref, Reason: "return type: " + err.Error()}
	}
	if rest != "" {
		return nil, &ParseError{Kind: "method", Input: ref, Reason: fmt.Sprintf("trailing content %q after return type", rest)}
	}

	return &MethodRef{
		Class:  className,
		Name:   match[2],
		Params: params,
		Return: ret,
	}, nil
}

// ToFieldSignature 将 JVM 字段引用转换为规范字段签名
// Lcom/example/Foo;->count:I -> com.example.Foo.count
func ToFieldSignature(ref string) (string, error) {
	f, err := ParseFieldRef(ref)
	if err != nil {
		return "", err
	}
	return f.Signature(), nil
}

// ParseFieldRef 解析形如 <类描述符>-><字段名>:<类型描述符> 的字段引用
func ParseFieldRef(ref string) (*FieldRef, error) {
	match := fieldRefPattern.FindStringSubmatch(ref)
	if match == nil {
		return nil, &ParseError{Kind: "field", Input: ref, Reason: "expected Lpkg/Class;->name:type"}
	}

	className, err := ToClassSignature(match[1])
	if err != nil {
		return nil, &ParseError{Kind: "field", Input: ref, Reason: err.(*ParseError).Reason}
	}

	fieldType, rest, err := decodeToken(match[3])
	if err != nil {
		return nil, &ParseError{Kind: "field", Input: ref, Reason: "type: " + err.Error()}
	}
	if rest != "" || fieldType == "void" {
		return nil, &ParseError{Kind: "field", Input: ref, Reason: "invalid field type"}
	}

	return &FieldRef{Class: className, Name: match[2], Type: fieldType}, nil
}
