package util

import (
	"encoding/xml"
	"os"
)

// LoadConfig 读xml文件到v
func LoadConfig(filename string, v interface{}) error {
	if contents, err := os.ReadFile(filename); err != nil {
		return err
	} else {
		if err = xml.Unmarshal(contents, v); err != nil {
			return err
		}
		return nil
	}
}

// SaveConfig 把v写成xml文件
func SaveConfig(filename string, v interface{}) error {
	if contents, err := xml.MarshalIndent(v, "", "    "); err != nil {
		return err
	} else {
		if err = os.WriteFile(filename, append(contents, '\n'), 0644); err != nil {
			return err
		}
		return nil
	}
}
