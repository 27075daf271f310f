package signature

import (
	"fmt"
	"strings"
)

// UnknownType 无法识别的描述符返回的哨兵值，调用方必须把它当作错误信号
const UnknownType = "UNKNOWN_TYPE"

// primitiveTypes 基本类型描述符字符 -> 关键字
var primitiveTypes = map[byte]string{
	'V': "void",
	'Z': "boolean",
	'C': "char",
	'B': "byte",
	'S': "short",
	'I': "int",
	'F': "float",
	'J': "long",
	'D': "double",
}

// primitiveTags 关键字 -> 描述符字符（编码方向）
var primitiveTags = func() map[string]byte {
	m := make(map[string]byte, len(primitiveTypes))
	for tag, name := range primitiveTypes {
		m[name] = tag
	}
	return m
}()

// DecodeType 将单个 JVM 类型描述符转换为可读类型名
// 例如 "[Ljava/lang/String;" -> "java.lang.String[]"
// 该函数是全函数：任何无法识别的输入都返回 UnknownType，不会 panic
func DecodeType(descriptor string) string {
	name, rest, err := decodeToken(descriptor)
	if err != nil || rest != "" {
		return UnknownType
	}
	return name
}

// decodeToken 从 s 开头解析一个类型描述符，返回可读名称和剩余未消费的部分
// 数组维度只受输入长度限制；对象描述符以 ';' 结束，基本类型为单个字符
func decodeToken(s string) (name string, rest string, err error) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims >= len(s) {
		if dims == 0 {
			return "", "", fmt.Errorf("empty type descriptor")
		}
		return "", "", fmt.Errorf("array descriptor without element type")
	}

	i := dims
	var elem string

	switch tag := s[i]; tag {
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return "", "", fmt.Errorf("unterminated class descriptor")
		}
		binaryName := s[i+1 : i+end]
		if err := checkBinaryName(binaryName); err != nil {
			return "", "", err
		}
		elem = strings.ReplaceAll(binaryName, "/", ".")
		i += end + 1
	default:
		keyword, ok := primitiveTypes[tag]
		if !ok {
			return "", "", fmt.Errorf("unknown type tag %q", tag)
		}
		if tag == 'V' && dims > 0 {
			return "", "", fmt.Errorf("array of void")
		}
		elem = keyword
		i++
	}

	return elem + strings.Repeat("[]", dims), s[i:], nil
}

// checkBinaryName 校验内部类名（斜杠分隔），不允许空段
func checkBinaryName(binaryName string) error {
	if binaryName == "" {
		return fmt.Errorf("empty class name")
	}
	for _, segment := range strings.Split(binaryName, "/") {
		if segment == "" {
			return fmt.Errorf("empty segment in class name %q", binaryName)
		}
		if strings.ContainsAny(segment, ".[():<>") {
			return fmt.Errorf("illegal character in class name %q", binaryName)
		}
	}
	return nil
}

// EncodeType 将可读类型名重新编码为 JVM 类型描述符，是 DecodeType 的逆操作
// 例如 "int[][]" -> "[[I"，"java.lang.String" -> "Ljava/lang/String;"
func EncodeType(name string) (string, error) {
	dims := 0
	for strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		dims++
	}
	if name == "" {
		return "", fmt.Errorf("empty type name")
	}

	var elem string
	if tag, ok := primitiveTags[name]; ok {
		if tag == 'V' && dims > 0 {
			return "", fmt.Errorf("array of void")
		}
		elem = string(tag)
	} else {
		if strings.Contains(name, "/") {
			return "", fmt.Errorf("type name %q is not dotted", name)
		}
		binaryName := strings.ReplaceAll(name, ".", "/")
		if err := checkBinaryName(binaryName); err != nil {
			return "", err
		}
		elem = "L" + binaryName + ";"
	}

	return strings.Repeat("[", dims) + elem, nil
}
